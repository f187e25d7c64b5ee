package report

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/yairfalse/rdsaudit/internal/awsapi/awsmock"
	"github.com/yairfalse/rdsaudit/internal/config"
	"github.com/yairfalse/rdsaudit/pkg/audit"
)

// ═══════════════════════════════════════════════════════════════════════════
// Helpers
// ═══════════════════════════════════════════════════════════════════════════

func instance(account, name string) audit.EnrichedResource {
	return audit.EnrichedResource{
		ResourceRecord: audit.ResourceRecord{
			Account:         account,
			Name:            name,
			Region:          "us-east-1",
			ARN:             "arn:aws:rds:us-east-1:" + account + ":db:" + name,
			ResourceType:    "rds:db",
			LastReportedAt:  "2024-05-02T08:00:00Z",
			HasRequiredTags: true,
		},
		Details: audit.Details{
			Role:         audit.RoleWriter,
			InstanceType: "db.r6g.large",
			Engine:       "aurora-postgresql",
			SavingsPlan:  false,
		},
		CPU:         audit.PerformanceMetrics{P95: 15.4, Max: 80},
		Connections: audit.PerformanceMetrics{Avg: 12.5},
	}
}

func reportConfig() config.ReportConfig {
	return config.ReportConfig{Bucket: "111-rds-reports", URLExpiry: 15 * time.Minute, IncludeEnrichment: true}
}

func open(t *testing.T, body []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func cell(t *testing.T, f *excelize.File, sheet, ref string) string {
	t.Helper()
	v, err := f.GetCellValue(sheet, ref, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	return v
}

func style(t *testing.T, f *excelize.File, sheet, ref string) *excelize.Style {
	t.Helper()
	id, err := f.GetCellStyle(sheet, ref)
	require.NoError(t, err)
	s, err := f.GetStyle(id)
	require.NoError(t, err)
	return s
}

func hasFill(s *excelize.Style, rgb string) bool {
	for _, c := range s.Fill.Color {
		if strings.HasSuffix(strings.ToUpper(c), rgb) {
			return true
		}
	}
	return false
}

func rowCount(t *testing.T, f *excelize.File, sheet string) int {
	t.Helper()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	return len(rows)
}

// ═══════════════════════════════════════════════════════════════════════════
// Keys and columns
// ═══════════════════════════════════════════════════════════════════════════

func TestObjectKey(t *testing.T) {
	ts := time.Date(2024, 6, 8, 12, 34, 56, 789_000_000, time.FixedZone("X", 3600))

	key := ObjectKey(ts)

	assert.Equal(t, "report_2024-06-08T11_34_56_789Z.xlsx", key)
	trimmed := strings.TrimSuffix(strings.TrimPrefix(key, "report_"), ".xlsx")
	assert.NotContains(t, trimmed, ".")
	assert.NotContains(t, trimmed, ":")
	assert.NotContains(t, trimmed, "/")
}

func TestColumns(t *testing.T) {
	base := Columns(false, false)
	require.Len(t, base, 6)
	assert.Equal(t, "Account", base[0].Name)
	assert.Equal(t, "LastReportedAt", base[5].Name)

	full := Columns(true, false)
	require.Len(t, full, 22)
	assert.Equal(t, "Role", full[6].Name)
	assert.Equal(t, "SavingsPlan", full[9].Name)
	assert.Equal(t, "CPU Avg", full[10].Name)
	assert.Equal(t, "CPU Max", full[15].Name)
	assert.Equal(t, "Connections Avg", full[16].Name)
	assert.Equal(t, "Connections Max", full[21].Name)

	tagged := Columns(true, true)
	require.Len(t, tagged, 23)
	assert.Equal(t, "HasRequiredTags", tagged[22].Name)
}

func TestColumns_MetricValues(t *testing.T) {
	cols := Columns(true, false)
	r := instance("1", "a")

	assert.Equal(t, 15.4, cols[13].Value(r))
	assert.Equal(t, 80.0, cols[15].Value(r))
	assert.Equal(t, 12.5, cols[16].Value(r))
	assert.Equal(t, "writer", cols[6].Value(r))
}

func TestSheetNames(t *testing.T) {
	long := strings.Repeat("x", 40)
	names := sheetNames([]audit.AccountReport{
		{Account: "123"}, {Account: "123"}, {Account: "all"}, {Account: long}, {Account: long},
	})

	assert.Equal(t, "all", names[0])
	assert.Equal(t, "123", names[1])
	assert.Equal(t, "123-2", names[2])
	assert.Equal(t, "all-2", names[3])
	assert.Len(t, names[4], MaxSheetName)
	assert.Len(t, names[5], MaxSheetName)
	assert.True(t, strings.HasSuffix(names[5], "-2"))
}

// ═══════════════════════════════════════════════════════════════════════════
// Rendering
// ═══════════════════════════════════════════════════════════════════════════

func TestSerialize_RollupAndAccountSheets(t *testing.T) {
	c := NewCompiler(&awsmock.S3{}, &awsmock.S3{}, reportConfig())
	reports := []audit.AccountReport{
		{Account: "111", Instances: []audit.EnrichedResource{}},
		{Account: "222", Instances: []audit.EnrichedResource{instance("222", "a")}},
	}

	body, err := c.Serialize(reports)
	require.NoError(t, err)
	f := open(t, body)

	assert.Equal(t, []string{"all", "111", "222"}, f.GetSheetList())
	assert.Equal(t, 2, rowCount(t, f, "all"))
	assert.Equal(t, 1, rowCount(t, f, "111"))
	assert.Equal(t, 2, rowCount(t, f, "222"))
	assert.Equal(t, "a", cell(t, f, "all", "B2"))
}

func TestSerialize_RollupCountsEveryAccount(t *testing.T) {
	c := NewCompiler(&awsmock.S3{}, &awsmock.S3{}, reportConfig())
	reports := []audit.AccountReport{
		{Account: "1", Instances: []audit.EnrichedResource{instance("1", "a"), instance("1", "b")}},
		{Account: "2", Instances: []audit.EnrichedResource{instance("2", "c")}},
		{Account: "3", Instances: []audit.EnrichedResource{instance("3", "d"), instance("3", "e"), instance("3", "f")}},
	}

	body, err := c.Serialize(reports)
	require.NoError(t, err)
	f := open(t, body)

	assert.Equal(t, 1+6, rowCount(t, f, "all"))
	assert.Equal(t, "a", cell(t, f, "all", "B2"))
	assert.Equal(t, "f", cell(t, f, "all", "B7"))
}

func TestSerialize_HeaderAndCells(t *testing.T) {
	c := NewCompiler(&awsmock.S3{}, &awsmock.S3{}, reportConfig())
	r := instance("222", "a")
	r.SavingsPlan = true
	reports := []audit.AccountReport{{Account: "222", Instances: []audit.EnrichedResource{r, instance("222", "b")}}}

	body, err := c.Serialize(reports)
	require.NoError(t, err)
	f := open(t, body)

	assert.Equal(t, "Account", cell(t, f, "222", "A1"))
	assert.Equal(t, "CPU Max", cell(t, f, "222", "P1"))
	assert.Equal(t, "Connections Max", cell(t, f, "222", "V1"))

	header := style(t, f, "222", "A1")
	require.NotNil(t, header.Font)
	assert.True(t, header.Font.Bold)
	assert.Equal(t, "Arial", header.Font.Family)
	assert.Equal(t, 16.0, header.Font.Size)
	assert.True(t, hasFill(header, headerFill))
	assert.Len(t, header.Border, 4)

	assert.Equal(t, "Y", cell(t, f, "222", "J2"))
	assert.True(t, hasFill(style(t, f, "222", "J2"), positiveFill))
	assert.Equal(t, "N", cell(t, f, "222", "J3"))
	assert.True(t, hasFill(style(t, f, "222", "J3"), negativeFill))

	assert.Equal(t, "15.4", cell(t, f, "222", "N2"))
	num := style(t, f, "222", "N2")
	require.NotNil(t, num.CustomNumFmt)
	assert.Equal(t, "0.00", *num.CustomNumFmt)
	assert.Equal(t, 14.0, num.Font.Size)
	assert.Equal(t, "center", num.Alignment.Horizontal)

	width, err := f.GetColWidth("222", "E")
	require.NoError(t, err)
	assert.Equal(t, 70.0, width)
}

func TestSerialize_TagComplianceColumn(t *testing.T) {
	cfg := reportConfig()
	cfg.IncludeEnrichment = false
	cfg.IncludeTagCompliance = true
	c := NewCompiler(&awsmock.S3{}, &awsmock.S3{}, cfg)

	body, err := c.Serialize([]audit.AccountReport{{Account: "1", Instances: []audit.EnrichedResource{instance("1", "a")}}})
	require.NoError(t, err)
	f := open(t, body)

	assert.Equal(t, "HasRequiredTags", cell(t, f, "1", "G1"))
	assert.Equal(t, "Y", cell(t, f, "1", "G2"))
	assert.Empty(t, cell(t, f, "1", "H1"))
}

// ═══════════════════════════════════════════════════════════════════════════
// Compile
// ═══════════════════════════════════════════════════════════════════════════

func TestCompile_UploadsAndPresigns(t *testing.T) {
	var uploaded []byte
	var putKey, presignKey string
	var presignOpts s3.PresignOptions
	mock := &awsmock.S3{
		PutObjectFunc: func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			assert.Equal(t, "111-rds-reports", aws.ToString(params.Bucket))
			assert.Equal(t, ContentType, aws.ToString(params.ContentType))
			putKey = aws.ToString(params.Key)
			b, err := io.ReadAll(params.Body)
			require.NoError(t, err)
			uploaded = b
			return &s3.PutObjectOutput{}, nil
		},
		PresignGetObjectFunc: func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
			presignKey = aws.ToString(params.Key)
			for _, fn := range optFns {
				fn(&presignOpts)
			}
			return &v4.PresignedHTTPRequest{URL: "https://111-rds-reports.s3.amazonaws.com/" + presignKey + "?X-Amz-Signature=abc", Method: "GET"}, nil
		},
	}
	c := NewCompiler(mock, mock, reportConfig())
	c.now = func() time.Time { return time.Date(2024, 6, 8, 12, 34, 56, 789_000_000, time.UTC) }

	url, err := c.Compile(context.Background(), []audit.AccountReport{{Account: "1", Instances: []audit.EnrichedResource{instance("1", "a")}}})

	require.NoError(t, err)
	assert.Equal(t, "report_2024-06-08T12_34_56_789Z.xlsx", putKey)
	assert.Equal(t, putKey, presignKey)
	assert.Contains(t, url, putKey)
	assert.Equal(t, 15*time.Minute, presignOpts.Expires)

	f := open(t, uploaded)
	assert.Equal(t, []string{"all", "1"}, f.GetSheetList())
}

func TestCompile_UploadFailureIsFatal(t *testing.T) {
	cause := errors.New("AccessDenied")
	presigned := false
	mock := &awsmock.S3{
		PutObjectFunc: func(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			return nil, cause
		},
		PresignGetObjectFunc: func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
			presigned = true
			return &v4.PresignedHTTPRequest{}, nil
		},
	}
	c := NewCompiler(mock, mock, reportConfig())

	url, err := c.Compile(context.Background(), nil)

	require.ErrorIs(t, err, cause)
	assert.Empty(t, url)
	assert.False(t, presigned)
}

func TestCompile_PresignFailureIsFatal(t *testing.T) {
	cause := errors.New("no credentials")
	mock := &awsmock.S3{
		PresignGetObjectFunc: func(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
			return nil, cause
		},
	}
	c := NewCompiler(mock, mock, reportConfig())

	url, err := c.Compile(context.Background(), nil)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "presign report")
	assert.Empty(t, url)
}
