// Package archive uploads a JSON snapshot of every committed summary to S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/tokenpulse/internal/store"
)

// Snapshot is the archived document.
type Snapshot struct {
	Summary    store.Summary        `json:"summary"`
	Insights   []store.TokenInsight `json:"insights"`
	MessageIDs []uuid.UUID          `json:"message_ids"`
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // S3-compatible endpoint, empty for AWS
	AccessKey string
	SecretKey string
}

type Archiver struct {
	up     uploader
	bucket string
	prefix string
}

// New builds an archiver. Static credentials are used when both keys are
// set, otherwise the default AWS credential chain.
func New(ctx context.Context, opts Options) (*Archiver, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("archive bucket not set")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Archiver{
		up:     manager.NewUploader(client),
		bucket: opts.Bucket,
		prefix: opts.Prefix,
	}, nil
}

// Key returns the object key of a summary: <prefix>summaries/YYYY/MM/DD/<id>.json.
func Key(prefix string, s store.Summary) string {
	return fmt.Sprintf("%ssummaries/%s/%s.json", prefix, s.CreatedAt.UTC().Format("2006/01/02"), s.ID)
}

// Archive uploads snap and returns its object key.
func (a *Archiver) Archive(ctx context.Context, snap Snapshot) (string, error) {
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	key := Key(a.prefix, snap.Summary)

	ctxUpload, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	_, err = a.up.Upload(ctxUpload, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	return key, nil
}
