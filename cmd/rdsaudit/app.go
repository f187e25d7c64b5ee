package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/rdsaudit/internal/awsapi"
	"github.com/yairfalse/rdsaudit/internal/config"
	"github.com/yairfalse/rdsaudit/internal/credentials"
	"github.com/yairfalse/rdsaudit/internal/directory"
	"github.com/yairfalse/rdsaudit/internal/inventory"
	"github.com/yairfalse/rdsaudit/internal/metrics"
	"github.com/yairfalse/rdsaudit/internal/report"
	"github.com/yairfalse/rdsaudit/internal/stages"
	"github.com/yairfalse/rdsaudit/internal/telemetry"
	"github.com/yairfalse/rdsaudit/pkg/audit"
)

// newHandlers wires every stage collaborator against real AWS clients.
// The returned func flushes telemetry.
func newHandlers(ctx context.Context, c *config.Config) (*stages.Handlers, func(), error) {
	tp, err := telemetry.NewProvider(ctx, c.OTEL)
	if err != nil {
		return nil, nil, fmt.Errorf("init telemetry: %w", err)
	}
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}

	base, err := awsapi.LoadBase(ctx, c.Audit.AggregatorIndexRegion)
	if err != nil {
		shutdown()
		return nil, nil, err
	}

	factory := awsapi.NewFactory()
	auth := credentials.NewAuthenticator(base, factory.STS(base), c.Audit)

	return &stages.Handlers{
		Directory: directory.New(auth, factory.Organizations, c.Audit),
		Auth:      auth,
		Searcher:  inventory.NewSearcher(factory.ResourceExplorer, c.Audit.AggregatorIndexRegion, c.Audit.ResourceTypes),
		Describer: inventory.NewDescriber(factory.RDS),
		Enricher:  metrics.NewAggregator(factory.CloudWatch, c.Metrics),
		Compiler:  &bucketCompiler{base: base, cfg: c.Report, head: s3.NewFromConfig(base)},
		Telemetry: tp,
	}, shutdown, nil
}

// bucketCompiler locates the report bucket only when a report is compiled,
// so the other stages never touch S3.
type bucketCompiler struct {
	base aws.Config
	cfg  config.ReportConfig
	head awsapi.HeadBucketAPI
}

func (b *bucketCompiler) Compile(ctx context.Context, reports []audit.AccountReport) (string, error) {
	client, presigner := awsapi.NewS3(b.base, b.region(ctx))
	return report.NewCompiler(client, presigner, b.cfg).Compile(ctx, reports)
}

func (b *bucketCompiler) region(ctx context.Context) string {
	region, err := awsapi.BucketRegion(ctx, b.head, b.cfg.Bucket, b.cfg.Region)
	if err != nil {
		log.Warn().Err(err).
			Str("bucket", b.cfg.Bucket).
			Str("region", b.base.Region).
			Msg("Bucket region lookup failed, using the default region")
		return b.base.Region
	}
	return region
}

// runStage decodes the stage input, runs the handler and encodes its output.
func runStage[In, Out any](cmd *cobra.Command, handle func(*stages.Handlers, context.Context, In) (Out, error)) error {
	ctx := cmd.Context()

	in, err := readInput[In](cmd)
	if err != nil {
		return err
	}

	h, shutdown, err := newHandlers(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	out, err := handle(h, ctx, in)
	if err != nil {
		return err
	}
	return stages.Encode(cmd.OutOrStdout(), out)
}

// readInput reads the stage document from --input or stdin. An interactive
// stdin counts as empty input.
func readInput[In any](cmd *cobra.Command) (In, error) {
	var r io.Reader = cmd.InOrStdin()
	if inputPath == "" && isTerminal(r) {
		var zero In
		return zero, nil
	}
	if inputPath != "" {
		f, err := os.Open(inputPath)
		if err != nil {
			var zero In
			return zero, fmt.Errorf("open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	return stages.Decode[In](r)
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
