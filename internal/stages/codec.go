package stages

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Decode reads one JSON stage document. Empty input decodes to the zero value.
func Decode[T any](r io.Reader) (T, error) {
	var v T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&v); err != nil && !errors.Is(err, io.EOF) {
		return v, fmt.Errorf("decode stage input: %w", err)
	}
	return v, nil
}

// Encode writes one JSON stage document followed by a newline.
func Encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode stage output: %w", err)
	}
	return nil
}
