package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yairfalse/rdsaudit/pkg/audit"
)

// RequiredTagKey is the tag whose presence marks a resource as compliant.
const RequiredTagKey = "Team"

// ErrUnrecognizedKind is returned for index entries that are not database resources.
var ErrUnrecognizedKind = errors.New("unrecognized resource kind")

// Normalize builds the canonical record for one index entry.
func Normalize(entry InventoryEntry) (audit.ResourceRecord, error) {
	if entry.ResourceType != KindInstance && entry.ResourceType != KindCluster {
		return audit.ResourceRecord{}, fmt.Errorf("normalize %s: %w %q", entry.ARN, ErrUnrecognizedKind, entry.ResourceType)
	}

	id, err := audit.ParseIdentity(entry.ARN)
	if err != nil {
		return audit.ResourceRecord{}, fmt.Errorf("normalize: %w", err)
	}

	region := entry.Region
	if region == "" {
		region = id.Region
	}

	record := audit.ResourceRecord{
		Account:         id.Account,
		Name:            id.Name,
		Region:          region,
		ARN:             entry.ARN,
		ResourceType:    entry.ResourceType,
		HasRequiredTags: hasRequiredTag(entry.Properties),
	}
	if entry.LastReportedAt != nil {
		record.LastReportedAt = entry.LastReportedAt.UTC().Format(time.RFC3339)
	}
	return record, nil
}

// NormalizeAll normalizes entries in order and stops at the first failure.
func NormalizeAll(entries []InventoryEntry) ([]audit.ResourceRecord, error) {
	records := make([]audit.ResourceRecord, 0, len(entries))
	for _, e := range entries {
		r, err := Normalize(e)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// hasRequiredTag reports whether any property document holds a tag object
// whose Key is RequiredTagKey. Undecodable documents count as untagged.
func hasRequiredTag(props []Property) bool {
	for _, p := range props {
		if len(p.Data) == 0 {
			continue
		}
		var doc any
		if err := json.Unmarshal(p.Data, &doc); err != nil {
			continue
		}
		if containsTagKey(doc) {
			return true
		}
	}
	return false
}

func containsTagKey(doc any) bool {
	switch v := doc.(type) {
	case []any:
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok && obj["Key"] == RequiredTagKey {
				return true
			}
		}
	case map[string]any:
		return v["Key"] == RequiredTagKey
	}
	return false
}
