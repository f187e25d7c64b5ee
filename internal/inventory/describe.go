package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/rdsaudit/internal/awsapi"
	"github.com/yairfalse/rdsaudit/internal/credentials"
	"github.com/yairfalse/rdsaudit/pkg/audit"
)

// describeConcurrency bounds the records described at once within one account.
const describeConcurrency = 5

// Describer looks up the live RDS state behind index records.
type Describer struct {
	client func(cfg aws.Config, region string) awsapi.RDSAPI
}

// NewDescriber creates a describer using the given regional client constructor.
func NewDescriber(client func(cfg aws.Config, region string) awsapi.RDSAPI) *Describer {
	return &Describer{client: client}
}

// Describe returns the described resources behind one record. A cluster yields
// itself followed by its members. A resource the index still lists but RDS no
// longer knows yields nothing.
func (d *Describer) Describe(ctx context.Context, scope credentials.Scope, record audit.ResourceRecord) ([]audit.DescribedResource, error) {
	client := d.client(scope.Config, record.Region)

	switch record.ResourceType {
	case KindInstance:
		return d.describeStandalone(ctx, client, record)
	case KindCluster:
		return d.describeCluster(ctx, client, record)
	default:
		return nil, fmt.Errorf("describe %s: %w %q", record.ARN, ErrUnrecognizedKind, record.ResourceType)
	}
}

// DescribeAll describes every record and concatenates the results in record order.
// A cluster member is reported once, under its cluster, even when the index
// also lists it on its own.
func (d *Describer) DescribeAll(ctx context.Context, scope credentials.Scope, records []audit.ResourceRecord) ([]audit.DescribedResource, error) {
	results := make([][]audit.DescribedResource, len(records))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(describeConcurrency)
	for i, r := range records {
		g.Go(func() error {
			described, err := d.Describe(ctx, scope, r)
			if err != nil {
				return err
			}
			results[i] = described
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return merge(scope.Account, records, results), nil
}

// merge flattens per-record results, dropping repeated ARNs. Members expanded
// from a cluster record take precedence over the member's own index entry.
func merge(account string, records []audit.ResourceRecord, results [][]audit.DescribedResource) []audit.DescribedResource {
	expanded := make(map[string]bool)
	for i, r := range records {
		if r.ResourceType != KindCluster {
			continue
		}
		for _, m := range results[i] {
			if m.Role != audit.RoleCluster {
				expanded[m.ARN] = true
			}
		}
	}

	out := make([]audit.DescribedResource, 0, len(records))
	seen := make(map[string]bool, len(records))
	dropped := 0
	for i, r := range records {
		for _, res := range results[i] {
			if seen[res.ARN] || (r.ResourceType != KindCluster && expanded[res.ARN]) {
				dropped++
				continue
			}
			seen[res.ARN] = true
			out = append(out, res)
		}
	}

	if dropped > 0 {
		log.Debug().
			Str("account", account).
			Int("dropped", dropped).
			Msg("Dropped cluster members already reported under their cluster")
	}
	return out
}

func (d *Describer) describeStandalone(ctx context.Context, client awsapi.RDSAPI, record audit.ResourceRecord) ([]audit.DescribedResource, error) {
	instance, err := describeInstance(ctx, client, record.Name)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		logDrift(record, "instance")
		return nil, nil
	}

	role := audit.RoleStandalone
	var parentARN string
	if clusterID := aws.ToString(instance.DBClusterIdentifier); clusterID != "" {
		role, parentARN, err = memberRole(ctx, client, clusterID, record.Name)
		if err != nil {
			return nil, err
		}
	}

	return []audit.DescribedResource{{
		ResourceRecord: record,
		Details: audit.Details{
			Role:         role,
			InstanceType: aws.ToString(instance.DBInstanceClass),
			Engine:       aws.ToString(instance.Engine),
			SavingsPlan:  isReserved(ctx, client, record.Name),
			ParentARN:    parentARN,
		},
	}}, nil
}

func (d *Describer) describeCluster(ctx context.Context, client awsapi.RDSAPI, record audit.ResourceRecord) ([]audit.DescribedResource, error) {
	cluster, err := describeCluster(ctx, client, record.Name)
	if err != nil {
		return nil, err
	}
	if cluster == nil {
		logDrift(record, "cluster")
		return nil, nil
	}

	clusterARN := aws.ToString(cluster.DBClusterArn)
	if clusterARN == "" {
		clusterARN = record.ARN
	}

	members := make([]audit.DescribedResource, 0, len(cluster.DBClusterMembers))
	for _, m := range cluster.DBClusterMembers {
		name := aws.ToString(m.DBInstanceIdentifier)
		instance, err := describeInstance(ctx, client, name)
		if err != nil {
			return nil, err
		}
		if instance == nil {
			log.Warn().
				Str("account", record.Account).
				Str("cluster", record.Name).
				Str("member", name).
				Msg("Cluster member not found, skipping")
			continue
		}

		role := audit.RoleReader
		if aws.ToBool(m.IsClusterWriter) {
			role = audit.RoleWriter
		}

		member := record
		member.Name = name
		member.ARN = aws.ToString(instance.DBInstanceArn)
		member.ResourceType = KindInstance
		members = append(members, audit.DescribedResource{
			ResourceRecord: member,
			Details: audit.Details{
				Role:         role,
				InstanceType: aws.ToString(instance.DBInstanceClass),
				Engine:       aws.ToString(instance.Engine),
				SavingsPlan:  isReserved(ctx, client, name),
				ParentARN:    clusterARN,
			},
		})
	}

	parent := audit.DescribedResource{
		ResourceRecord: record,
		Details: audit.Details{
			Role:         audit.RoleCluster,
			InstanceType: aws.ToString(cluster.DBClusterInstanceClass),
			Engine:       aws.ToString(cluster.Engine),
		},
	}
	for _, m := range members {
		if parent.InstanceType == "" {
			parent.InstanceType = m.InstanceType
		}
		if m.SavingsPlan {
			parent.SavingsPlan = true
		}
	}

	return append([]audit.DescribedResource{parent}, members...), nil
}

// describeInstance returns nil without error when the instance does not exist.
func describeInstance(ctx context.Context, client awsapi.RDSAPI, name string) (*rdstypes.DBInstance, error) {
	out, err := client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("describe db instance %s: %w", name, err)
	}
	if len(out.DBInstances) == 0 {
		return nil, nil
	}
	return &out.DBInstances[0], nil
}

// describeCluster returns nil without error when the cluster does not exist.
func describeCluster(ctx context.Context, client awsapi.RDSAPI, name string) (*rdstypes.DBCluster, error) {
	out, err := client.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{
		DBClusterIdentifier: aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("describe db cluster %s: %w", name, err)
	}
	if len(out.DBClusters) == 0 {
		return nil, nil
	}
	return &out.DBClusters[0], nil
}

// memberRole resolves whether instance is the writer of its cluster and returns
// the cluster ARN. A cluster that vanished since the instance was described
// leaves it standalone.
func memberRole(ctx context.Context, client awsapi.RDSAPI, clusterID, instance string) (audit.RoleKind, string, error) {
	cluster, err := describeCluster(ctx, client, clusterID)
	if err != nil {
		return audit.RoleStandalone, "", err
	}
	if cluster == nil {
		return audit.RoleStandalone, "", nil
	}

	clusterARN := aws.ToString(cluster.DBClusterArn)
	for _, m := range cluster.DBClusterMembers {
		if aws.ToString(m.DBInstanceIdentifier) == instance {
			if aws.ToBool(m.IsClusterWriter) {
				return audit.RoleWriter, clusterARN, nil
			}
			return audit.RoleReader, clusterARN, nil
		}
	}
	return audit.RoleReader, clusterARN, nil
}

// isReserved reports whether a reservation exists under the instance's name.
// Lookup failures are treated as not reserved.
func isReserved(ctx context.Context, client awsapi.RDSAPI, name string) bool {
	out, err := client.DescribeReservedDBInstances(ctx, &rds.DescribeReservedDBInstancesInput{
		ReservedDBInstanceId: aws.String(name),
	})
	if err != nil {
		log.Debug().Err(err).Str("instance", name).Msg("Reservation lookup failed")
		return false
	}
	return len(out.ReservedDBInstances) > 0
}

func isNotFound(err error) bool {
	var instanceNotFound *rdstypes.DBInstanceNotFoundFault
	if errors.As(err, &instanceNotFound) {
		return true
	}
	var clusterNotFound *rdstypes.DBClusterNotFoundFault
	if errors.As(err, &clusterNotFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "DBInstanceNotFound", "DBInstanceNotFoundFault", "DBClusterNotFoundFault":
			return true
		}
	}
	return false
}

func logDrift(record audit.ResourceRecord, kind string) {
	log.Warn().
		Str("account", record.Account).
		Str("region", record.Region).
		Str("arn", record.ARN).
		Msgf("Indexed %s no longer exists, skipping", kind)
}
