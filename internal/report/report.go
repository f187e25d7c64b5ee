// Package report renders account reports into a styled workbook, stores it in S3
// and hands back a presigned retrieval URL.
package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/rdsaudit/internal/awsapi"
	"github.com/yairfalse/rdsaudit/internal/config"
	"github.com/yairfalse/rdsaudit/pkg/audit"
)

const (
	ContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	DefaultExpiry = 15 * time.Minute

	keyTimeLayout = "2006-01-02T15:04:05.000Z07:00"
)

var keyReplacer = strings.NewReplacer(".", "_", "/", "_", ":", "_")

// ObjectKey returns the report object key for the given invocation time.
func ObjectKey(t time.Time) string {
	return "report_" + keyReplacer.Replace(t.UTC().Format(keyTimeLayout)) + ".xlsx"
}

// Uploader stores an object body in S3.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Compiler turns account reports into one stored workbook.
type Compiler struct {
	uploader  Uploader
	presigner awsapi.S3PresignAPI
	bucket    string
	expiry    time.Duration
	columns   []Column
	now       func() time.Time
}

// NewCompiler creates a compiler that uploads through the S3 upload manager.
func NewCompiler(client awsapi.S3UploadAPI, presigner awsapi.S3PresignAPI, cfg config.ReportConfig) *Compiler {
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Compiler{
		uploader:  manager.NewUploader(client),
		presigner: presigner,
		bucket:    cfg.Bucket,
		expiry:    expiry,
		columns:   Columns(cfg.IncludeEnrichment, cfg.IncludeTagCompliance),
		now:       time.Now,
	}
}

// Compile renders, uploads and presigns the report. No URL is returned unless
// every step succeeded.
func (c *Compiler) Compile(ctx context.Context, reports []audit.AccountReport) (string, error) {
	body, err := c.Serialize(reports)
	if err != nil {
		return "", err
	}

	key := ObjectKey(c.now())
	if _, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(ContentType),
	}); err != nil {
		return "", fmt.Errorf("upload report %s/%s: %w", c.bucket, key, err)
	}

	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.expiry))
	if err != nil {
		return "", fmt.Errorf("presign report %s/%s: %w", c.bucket, key, err)
	}

	log.Info().
		Str("bucket", c.bucket).
		Str("key", key).
		Int("accounts", len(reports)).
		Int("bytes", len(body)).
		Dur("expiry", c.expiry).
		Msg("Report uploaded")

	return req.URL, nil
}

// Serialize renders the workbook into its binary form.
func (c *Compiler) Serialize(reports []audit.AccountReport) ([]byte, error) {
	f, err := Render(reports, c.columns)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	defer func() { _ = f.Close() }()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize report: %w", err)
	}
	return buf.Bytes(), nil
}
