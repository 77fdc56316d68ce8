// Package s3 fetches objects stored one per key in an S3 bucket.
//
// Object id X lives at {KeyPrefix}X as its JSON encoding. A batch is fetched
// with one GetObject per id, Concurrency at a time.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/objectloader/internal/logger"
	"github.com/marmos91/objectloader/internal/telemetry"
	"github.com/marmos91/objectloader/pkg/base"
	"github.com/marmos91/objectloader/pkg/transport"
)

// Config configures a Downloader.
type Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket" validate:"required"`
	Region    string `mapstructure:"region" yaml:"region,omitempty"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// Endpoint overrides the S3 endpoint for S3-compatible services.
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`

	// AccessKeyID and SecretAccessKey, when set, replace the default
	// credential chain.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	Concurrency int `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=0"`
}

const defaultConcurrency = 16

// API is the subset of the S3 client the Downloader uses.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Downloader reads objects from S3.
type Downloader struct {
	client API
	cfg    Config
}

// New creates a Downloader over an existing client.
func New(client API, cfg Config) *Downloader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Downloader{client: client, cfg: cfg}
}

// NewFromConfig builds the S3 client from cfg and the default AWS chain.
func NewFromConfig(ctx context.Context, cfg Config) (*Downloader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return New(client, cfg), nil
}

func (d *Downloader) Name() string { return "s3" }

func (d *Downloader) key(id string) string {
	return d.cfg.KeyPrefix + id
}

// FetchSingle reads one object.
func (d *Downloader) FetchSingle(ctx context.Context, id string) (base.Item, error) {
	resp, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(d.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return base.Item{}, fmt.Errorf("%s: %w", id, transport.ErrNotFound)
		}
		return base.Item{}, fmt.Errorf("s3 get object %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return base.Item{}, fmt.Errorf("read s3 object body: %w", err)
	}
	it, err := base.NewItemFromJSON(raw)
	if err != nil {
		return base.Item{}, fmt.Errorf("decode %s: %w", id, err)
	}
	if it.BaseID != id {
		return base.Item{}, fmt.Errorf("key %s: %w", id, base.ErrIDMismatch)
	}
	return it, nil
}

// FetchBatch reads ids concurrently. Missing keys are left out.
func (d *Downloader) FetchBatch(ctx context.Context, ids []string) ([]base.Item, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanLoaderDownload)
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.Transport("s3"), telemetry.Bucket(d.cfg.Bucket), telemetry.BatchSize(len(ids)))

	slots := make([]*base.Item, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			it, err := d.FetchSingle(gctx, id)
			if errors.Is(err, transport.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			slots[i] = &it
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	out := make([]base.Item, 0, len(ids))
	for _, it := range slots {
		if it != nil {
			out = append(out, *it)
		}
	}
	if missing := len(ids) - len(out); missing > 0 {
		logger.Debug("S3 batch incomplete",
			logger.KeyBucket, d.cfg.Bucket,
			logger.KeyCount, len(ids),
			logger.KeyMissing, missing)
	}
	return out, nil
}

// Upload stores items under their keys.
func (d *Downloader) Upload(ctx context.Context, items []base.Item) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, it := range items {
		g.Go(func() error {
			raw, err := base.Encode(it.Base)
			if err != nil {
				return fmt.Errorf("encode %s: %w", it.BaseID, err)
			}
			_, err = d.client.PutObject(gctx, &s3.PutObjectInput{
				Bucket:      aws.String(d.cfg.Bucket),
				Key:         aws.String(d.key(it.BaseID)),
				Body:        bytes.NewReader(raw),
				ContentType: aws.String("application/json"),
			})
			if err != nil {
				return fmt.Errorf("s3 put object %s: %w", it.BaseID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

var _ transport.Downloader = (*Downloader)(nil)
