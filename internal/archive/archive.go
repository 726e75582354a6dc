// Package archive optionally uploads tick history rows about to age out
// of the retention window to S3-compatible cold storage before the
// retention cleanup job deletes them: optional blob upload using the
// aws-sdk-go-v2 client directly.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/finrisk/valuation-service/internal/domain"
)

// Archiver uploads aged-out tick batches to S3. A nil *Archiver (the
// zero-config case — empty bucket) means archival is disabled; callers
// check Enabled() before invoking UploadTicks.
type Archiver struct {
	bucket   string
	uploader *manager.Uploader
	log      zerolog.Logger
}

// New builds an Archiver against bucket in region, or returns (nil, nil)
// when bucket is empty — archival is an optional, env-gated component
// (ARCHIVE_S3_BUCKET).
func New(ctx context.Context, bucket, region string, log zerolog.Logger) (*Archiver, error) {
	if bucket == "" {
		return nil, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, domain.NewError(domain.Configuration, "load aws config for archive", err)
	}

	client := s3.NewFromConfig(cfg)
	return &Archiver{
		bucket:   bucket,
		uploader: manager.NewUploader(client),
		log:      log.With().Str("component", "archive").Logger(),
	}, nil
}

// Enabled reports whether archival is configured. A nil receiver is
// valid and reports false, so callers can skip the bucket check.
func (a *Archiver) Enabled() bool { return a != nil }

// UploadTicks writes ticks as a single newline-delimited-JSON object
// under a key scoped by the batch date and its nanosecond timestamp
// (ticks of all symbols share one object), for cold storage beyond the
// retention window the cleanup job enforces.
func (a *Archiver) UploadTicks(ctx context.Context, ticks []domain.TickPoint, batchTime time.Time) error {
	if a == nil || len(ticks) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, t := range ticks {
		if err := enc.Encode(t); err != nil {
			return domain.NewError(domain.Serialization, "encode archived ticks", err)
		}
	}

	key := fmt.Sprintf("price_history/%s/%d.jsonl", batchTime.UTC().Format("2006-01-02"), batchTime.UnixNano())
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return domain.NewError(domain.Network, "upload archived ticks", err)
	}

	a.log.Info().Str("key", key).Int("ticks", len(ticks)).Msg("archived aged tick history to s3")
	return nil
}
