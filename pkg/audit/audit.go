// Package audit defines the record types carried through the RDS audit pipeline.
package audit

// AllAccounts is the sheet and account value used for the rollup of every account.
const AllAccounts = "all"

// AccountRecord is one member account of the organization.
type AccountRecord struct {
	Account      string `json:"account"`
	Organization string `json:"organization"`
}

// AccountsRequest is the input of the account listing stage.
type AccountsRequest struct {
	Exclude []string `json:"exclude,omitempty"`
}

// AccountsResponse is the output of the account listing stage.
type AccountsResponse struct {
	Accounts []AccountRecord `json:"accounts"`
}

// ResourceRecord is the canonical form of an inventory entry.
// Built once by the normalizer; not mutated afterwards.
type ResourceRecord struct {
	Account         string `json:"account"`
	Name            string `json:"name"`
	Region          string `json:"region"`
	ARN             string `json:"arn"`
	ResourceType    string `json:"resourceType"`
	LastReportedAt  string `json:"lastReportedAt"`
	HasRequiredTags bool   `json:"hasRequiredTags"`
}

// Details holds the live RDS state of a resource.
type Details struct {
	Role         RoleKind `json:"role"`
	InstanceType string   `json:"instanceType"`
	Engine       string   `json:"engine"`
	SavingsPlan  bool     `json:"savingsPlan"`
	ParentARN    string   `json:"parentArn,omitempty"`
}

// DescribedResource is a record whose live state has been looked up.
type DescribedResource struct {
	ResourceRecord
	Details
}

// EnrichedResource is a described resource with its utilization statistics.
type EnrichedResource struct {
	ResourceRecord
	Details
	CPU         PerformanceMetrics `json:"cpu"`
	Connections PerformanceMetrics `json:"connections"`
}

// AccountInventory is the output of the extraction stage for one account.
type AccountInventory struct {
	Account   string              `json:"account"`
	Resources []DescribedResource `json:"resources"`
}

// AccountReport is the output of the metrics stage for one account.
type AccountReport struct {
	Account   string             `json:"account"`
	Instances []EnrichedResource `json:"instances"`
}

// Enrich merges statistics into a described resource. The result is always fully populated.
func Enrich(r DescribedResource, cpu, connections PerformanceMetrics) EnrichedResource {
	return EnrichedResource{
		ResourceRecord: r.ResourceRecord,
		Details:        r.Details,
		CPU:            cpu.sanitized(),
		Connections:    connections.sanitized(),
	}
}

// Rollup concatenates the instances of every report, in report order.
func Rollup(reports []AccountReport) AccountReport {
	total := 0
	for _, r := range reports {
		total += len(r.Instances)
	}

	all := AccountReport{Account: AllAccounts, Instances: make([]EnrichedResource, 0, total)}
	for _, r := range reports {
		all.Instances = append(all.Instances, r.Instances...)
	}
	return all
}
