package audit

import (
	"encoding/json"
	"fmt"
)

// RoleKind classifies a database resource.
type RoleKind int

const (
	RoleStandalone RoleKind = iota
	RoleWriter
	RoleReader
	RoleCluster
)

// CloudWatch dimension names for RDS metrics.
const (
	DimensionInstance = "DBInstanceIdentifier"
	DimensionCluster  = "DBClusterIdentifier"
)

// ParseRoleKind converts the wire form of a role.
func ParseRoleKind(s string) (RoleKind, error) {
	switch s {
	case "standalone":
		return RoleStandalone, nil
	case "writer":
		return RoleWriter, nil
	case "reader":
		return RoleReader, nil
	case "cluster":
		return RoleCluster, nil
	}
	return RoleStandalone, fmt.Errorf("unknown role %q", s)
}

func (r RoleKind) String() string {
	switch r {
	case RoleStandalone:
		return "standalone"
	case RoleWriter:
		return "writer"
	case RoleReader:
		return "reader"
	case RoleCluster:
		return "cluster"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// DimensionName returns the CloudWatch dimension that selects this resource's metric series.
func (r RoleKind) DimensionName() string {
	switch r {
	case RoleCluster:
		return DimensionCluster
	case RoleWriter, RoleReader, RoleStandalone:
		return DimensionInstance
	}
	panic(fmt.Sprintf("audit: no dimension for %s", r))
}

// MarshalJSON encodes the role as its name.
func (r RoleKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a role name, rejecting unknown values.
func (r *RoleKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRoleKind(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
