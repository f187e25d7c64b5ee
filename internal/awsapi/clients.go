package awsapi

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/resourceexplorer2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// OrganizationsRegion is where the global Organizations endpoint is served.
const OrganizationsRegion = "us-east-1"

// LoadBase loads the ambient AWS config (environment, shared files, instance role).
// The returned value is never mutated; per-account configs are derived copies.
func LoadBase(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// Factory builds regional clients from an AWS config.
// Tests replace individual fields with mocks.
type Factory struct {
	STS              func(cfg aws.Config) STSAPI
	Organizations    func(cfg aws.Config) OrganizationsAPI
	ResourceExplorer func(cfg aws.Config, region string) ResourceExplorerAPI
	RDS              func(cfg aws.Config, region string) RDSAPI
	CloudWatch       func(cfg aws.Config, region string) CloudWatchAPI
}

// NewFactory returns a factory backed by the real SDK clients.
func NewFactory() Factory {
	return Factory{
		STS: func(cfg aws.Config) STSAPI {
			return sts.NewFromConfig(cfg)
		},
		Organizations: func(cfg aws.Config) OrganizationsAPI {
			return organizations.NewFromConfig(cfg, func(o *organizations.Options) {
				o.Region = OrganizationsRegion
			})
		},
		ResourceExplorer: func(cfg aws.Config, region string) ResourceExplorerAPI {
			return resourceexplorer2.NewFromConfig(cfg, withRegion[resourceexplorer2.Options](region, func(o *resourceexplorer2.Options, r string) { o.Region = r }))
		},
		RDS: func(cfg aws.Config, region string) RDSAPI {
			return rds.NewFromConfig(cfg, withRegion[rds.Options](region, func(o *rds.Options, r string) { o.Region = r }))
		},
		CloudWatch: func(cfg aws.Config, region string) CloudWatchAPI {
			return cloudwatch.NewFromConfig(cfg, withRegion[cloudwatch.Options](region, func(o *cloudwatch.Options, r string) { o.Region = r }))
		},
	}
}

// NewS3 returns an S3 client and its presigner for the given region.
func NewS3(cfg aws.Config, region string) (*s3.Client, *s3.PresignClient) {
	client := s3.NewFromConfig(cfg, withRegion[s3.Options](region, func(o *s3.Options, r string) { o.Region = r }))
	return client, s3.NewPresignClient(client)
}

// BucketRegion returns the region bucket lives in. A configured region is
// returned as is; otherwise S3 is asked.
func BucketRegion(ctx context.Context, client HeadBucketAPI, bucket, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	region, err := manager.GetBucketRegion(ctx, client, bucket)
	if err != nil {
		return "", fmt.Errorf("locate bucket %s: %w", bucket, err)
	}
	if region == "" {
		return "", fmt.Errorf("locate bucket %s: no region reported", bucket)
	}
	return region, nil
}

func withRegion[O any](region string, set func(*O, string)) func(*O) {
	return func(o *O) {
		if region != "" {
			set(o, region)
		}
	}
}
