// Package inventory searches the organization resource index and turns its
// entries into described database resources.
package inventory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	rxtypes "github.com/aws/aws-sdk-go-v2/service/resourceexplorer2/types"
)

// Recognized database resource kinds in the resource index.
const (
	KindInstance = "rds:db"
	KindCluster  = "rds:cluster"
)

// DefaultKinds are the resource kinds searched when none are configured.
var DefaultKinds = []string{KindInstance, KindCluster}

// InventoryEntry is one raw resource reported by the index.
type InventoryEntry struct {
	ARN            string
	ResourceType   string
	Region         string
	OwningAccount  string
	LastReportedAt *time.Time
	Properties     []Property
}

// Property is a named index property with its JSON data document.
type Property struct {
	Name string
	Data json.RawMessage
}

func entryFromResource(r rxtypes.Resource) (InventoryEntry, error) {
	entry := InventoryEntry{
		ARN:            aws.ToString(r.Arn),
		ResourceType:   aws.ToString(r.ResourceType),
		Region:         aws.ToString(r.Region),
		OwningAccount:  aws.ToString(r.OwningAccountId),
		LastReportedAt: r.LastReportedAt,
	}

	if r.Properties == nil {
		return entry, nil
	}

	entry.Properties = make([]Property, 0, len(r.Properties))
	for _, p := range r.Properties {
		prop := Property{Name: aws.ToString(p.Name)}
		if p.Data != nil {
			data, err := p.Data.MarshalSmithyDocument()
			if err != nil {
				return InventoryEntry{}, fmt.Errorf("decode property %s of %s: %w", prop.Name, entry.ARN, err)
			}
			prop.Data = data
		}
		entry.Properties = append(entry.Properties, prop)
	}
	return entry, nil
}
