// Package awsmock provides hand-written test doubles for the awsapi interfaces.
package awsmock

import (
	"context"
	"sync"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/resourceexplorer2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// STS implements awsapi.STSAPI.
type STS struct {
	AssumeRoleFunc func(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)

	mu    sync.Mutex
	Calls []*sts.AssumeRoleInput
}

func (m *STS) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, params)
	m.mu.Unlock()
	if m.AssumeRoleFunc != nil {
		return m.AssumeRoleFunc(ctx, params, optFns...)
	}
	return &sts.AssumeRoleOutput{}, nil
}

// Organizations implements awsapi.OrganizationsAPI.
type Organizations struct {
	ListAccountsForParentFunc func(ctx context.Context, params *organizations.ListAccountsForParentInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsForParentOutput, error)
}

func (m *Organizations) ListAccountsForParent(ctx context.Context, params *organizations.ListAccountsForParentInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsForParentOutput, error) {
	if m.ListAccountsForParentFunc != nil {
		return m.ListAccountsForParentFunc(ctx, params, optFns...)
	}
	return &organizations.ListAccountsForParentOutput{}, nil
}

// ResourceExplorer implements awsapi.ResourceExplorerAPI.
type ResourceExplorer struct {
	SearchFunc func(ctx context.Context, params *resourceexplorer2.SearchInput, optFns ...func(*resourceexplorer2.Options)) (*resourceexplorer2.SearchOutput, error)
}

func (m *ResourceExplorer) Search(ctx context.Context, params *resourceexplorer2.SearchInput, optFns ...func(*resourceexplorer2.Options)) (*resourceexplorer2.SearchOutput, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, params, optFns...)
	}
	return &resourceexplorer2.SearchOutput{}, nil
}

// RDS implements awsapi.RDSAPI.
type RDS struct {
	DescribeDBInstancesFunc         func(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
	DescribeDBClustersFunc          func(ctx context.Context, params *rds.DescribeDBClustersInput, optFns ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error)
	DescribeReservedDBInstancesFunc func(ctx context.Context, params *rds.DescribeReservedDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeReservedDBInstancesOutput, error)
}

func (m *RDS) DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
	if m.DescribeDBInstancesFunc != nil {
		return m.DescribeDBInstancesFunc(ctx, params, optFns...)
	}
	return &rds.DescribeDBInstancesOutput{}, nil
}

func (m *RDS) DescribeDBClusters(ctx context.Context, params *rds.DescribeDBClustersInput, optFns ...func(*rds.Options)) (*rds.DescribeDBClustersOutput, error) {
	if m.DescribeDBClustersFunc != nil {
		return m.DescribeDBClustersFunc(ctx, params, optFns...)
	}
	return &rds.DescribeDBClustersOutput{}, nil
}

func (m *RDS) DescribeReservedDBInstances(ctx context.Context, params *rds.DescribeReservedDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeReservedDBInstancesOutput, error) {
	if m.DescribeReservedDBInstancesFunc != nil {
		return m.DescribeReservedDBInstancesFunc(ctx, params, optFns...)
	}
	return &rds.DescribeReservedDBInstancesOutput{}, nil
}

// CloudWatch implements awsapi.CloudWatchAPI.
type CloudWatch struct {
	GetMetricDataFunc func(ctx context.Context, params *cloudwatch.GetMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)

	mu    sync.Mutex
	Calls []*cloudwatch.GetMetricDataInput
}

func (m *CloudWatch) GetMetricData(ctx context.Context, params *cloudwatch.GetMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, params)
	m.mu.Unlock()
	if m.GetMetricDataFunc != nil {
		return m.GetMetricDataFunc(ctx, params, optFns...)
	}
	return &cloudwatch.GetMetricDataOutput{}, nil
}

// CallCount returns the number of GetMetricData calls so far.
func (m *CloudWatch) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// S3 implements awsapi.S3UploadAPI for single-part uploads, awsapi.S3PresignAPI
// and awsapi.HeadBucketAPI.
type S3 struct {
	PutObjectFunc        func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	PresignGetObjectFunc func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	HeadBucketFunc       func(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

func (m *S3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if m.HeadBucketFunc != nil {
		return m.HeadBucketFunc(ctx, params, optFns...)
	}
	return &s3.HeadBucketOutput{}, nil
}

func (m *S3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.PutObjectFunc != nil {
		return m.PutObjectFunc(ctx, params, optFns...)
	}
	return &s3.PutObjectOutput{}, nil
}

func (m *S3) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return &s3.UploadPartOutput{}, nil
}

func (m *S3) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{}, nil
}

func (m *S3) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (m *S3) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (m *S3) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if m.PresignGetObjectFunc != nil {
		return m.PresignGetObjectFunc(ctx, params, optFns...)
	}
	return &v4.PresignedHTTPRequest{Method: "GET"}, nil
}
