package inventory

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/rdsaudit/pkg/audit"
)

func entry(arn, kind string, props ...Property) InventoryEntry {
	return InventoryEntry{
		ARN:          arn,
		ResourceType: kind,
		Region:       "us-east-1",
		Properties:   props,
	}
}

func tags(doc string) Property {
	return Property{Name: "tags", Data: json.RawMessage(doc)}
}

func TestNormalize_Instance(t *testing.T) {
	e := entry("arn:aws:rds:us-east-1:123456789012:db:my-db-1", KindInstance)
	reported := time.Date(2024, 5, 2, 10, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	e.LastReportedAt = &reported

	r, err := Normalize(e)

	require.NoError(t, err)
	assert.Equal(t, "123456789012", r.Account)
	assert.Equal(t, "my-db-1", r.Name)
	assert.Equal(t, "us-east-1", r.Region)
	assert.Equal(t, "arn:aws:rds:us-east-1:123456789012:db:my-db-1", r.ARN)
	assert.Equal(t, KindInstance, r.ResourceType)
	assert.Equal(t, "2024-05-02T08:00:00Z", r.LastReportedAt)
	assert.False(t, r.HasRequiredTags)
}

func TestNormalize_Cluster(t *testing.T) {
	r, err := Normalize(entry("arn:aws:rds:eu-west-1:210987654321:cluster:orders", KindCluster))

	require.NoError(t, err)
	assert.Equal(t, "210987654321", r.Account)
	assert.Equal(t, "orders", r.Name)
	assert.Empty(t, r.LastReportedAt)
}

func TestNormalize_RegionFallsBackToIdentifier(t *testing.T) {
	e := entry("arn:aws:rds:ap-south-1:123:db:x", KindInstance)
	e.Region = ""

	r, err := Normalize(e)

	require.NoError(t, err)
	assert.Equal(t, "ap-south-1", r.Region)
}

func TestNormalize_UnrecognizedKind(t *testing.T) {
	_, err := Normalize(entry("arn:aws:ec2:us-east-1:123:instance/i-1:x:y", "ec2:instance"))

	require.ErrorIs(t, err, ErrUnrecognizedKind)
}

func TestNormalize_MalformedIdentifier(t *testing.T) {
	_, err := Normalize(entry("arn:aws:rds:us-east-1:123", KindInstance))

	require.ErrorIs(t, err, audit.ErrMalformedIdentifier)
}

func TestNormalize_TagDetection(t *testing.T) {
	tests := []struct {
		name  string
		props []Property
		want  bool
	}{
		{"absent properties", nil, false},
		{"empty properties", []Property{}, false},
		{"team tag", []Property{tags(`[{"Key":"Env","Value":"prod"},{"Key":"Team","Value":"payments"}]`)}, true},
		{"other tags only", []Property{tags(`[{"Key":"Env","Value":"prod"}]`)}, false},
		{"key match is case sensitive", []Property{tags(`[{"Key":"team","Value":"payments"}]`)}, false},
		{"team as value is not a key", []Property{tags(`[{"Key":"Owner","Value":"Team"}]`)}, false},
		{"second property", []Property{{Name: "other"}, tags(`[{"Key":"Team","Value":"x"}]`)}, true},
		{"single object document", []Property{tags(`{"Key":"Team","Value":"x"}`)}, true},
		{"undecodable document", []Property{tags(`not-json`)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Normalize(entry("arn:aws:rds:us-east-1:123:db:a", KindInstance, tt.props...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.HasRequiredTags)
		})
	}
}

func TestNormalizeAll_StopsAtFirstError(t *testing.T) {
	entries := []InventoryEntry{
		entry("arn:aws:rds:us-east-1:123:db:a", KindInstance),
		entry("arn:aws:lambda:us-east-1:123:function:f", "lambda:function"),
		entry("arn:aws:rds:us-east-1:123:db:b", KindInstance),
	}

	records, err := NormalizeAll(entries)

	require.ErrorIs(t, err, ErrUnrecognizedKind)
	assert.Nil(t, records)
}

func TestNormalizeAll_PreservesOrder(t *testing.T) {
	entries := []InventoryEntry{
		entry("arn:aws:rds:us-east-1:123:db:b", KindInstance),
		entry("arn:aws:rds:us-east-1:123:cluster:a", KindCluster),
	}

	records, err := NormalizeAll(entries)

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[0].Name)
	assert.Equal(t, "a", records[1].Name)
}
