package audit

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedIdentifier is returned for resource identifiers that cannot be decomposed.
var ErrMalformedIdentifier = errors.New("malformed resource identifier")

// Token positions of a colon-delimited resource identifier.
const (
	tokenPrefix    = 0
	tokenPartition = 1
	tokenService   = 2
	tokenRegion    = 3
	tokenAccount   = 4
	tokenKind      = 5
	tokenName      = 6
)

// ResourceIdentity is the structured form of an ARN such as
// arn:aws:rds:us-east-1:123456789012:db:my-db-1.
type ResourceIdentity struct {
	Partition string `json:"partition"`
	Service   string `json:"service"`
	Region    string `json:"region"`
	Account   string `json:"account"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
}

// ParseIdentity splits an ARN on ':' and reads the fixed token positions.
func ParseIdentity(arn string) (ResourceIdentity, error) {
	parts := strings.Split(arn, ":")
	if len(parts) <= tokenName || parts[tokenPrefix] != "arn" {
		return ResourceIdentity{}, fmt.Errorf("%w: %q", ErrMalformedIdentifier, arn)
	}

	id := ResourceIdentity{
		Partition: parts[tokenPartition],
		Service:   parts[tokenService],
		Region:    parts[tokenRegion],
		Account:   parts[tokenAccount],
		Kind:      parts[tokenKind],
		Name:      parts[tokenName],
	}
	if id.Account == "" || id.Name == "" {
		return ResourceIdentity{}, fmt.Errorf("%w: %q", ErrMalformedIdentifier, arn)
	}
	return id, nil
}
