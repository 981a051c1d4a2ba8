// Package upload publishes finished archives to S3 compatible object
// storage.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of parts uploaded in parallel.
const DefaultConcurrency = 4

// ErrNoBucket is returned when no bucket is configured.
var ErrNoBucket = errors.New("upload: bucket is required")

// S3Uploader uploads one object. *manager.Uploader implements it.
type S3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Config describes the destination bucket and credentials.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool

	// Concurrency bounds parallel part uploads. Zero uses DefaultConcurrency.
	Concurrency int
}

// Publisher uploads archive files under a key prefix.
type Publisher struct {
	bucket      string
	prefix      string
	concurrency int
	uploader    S3Uploader
}

// New builds a Publisher from the default AWS configuration chain plus cfg.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return NewWithUploader(cfg, manager.NewUploader(client))
}

// NewWithUploader builds a Publisher around an existing uploader.
func NewWithUploader(cfg Config, u S3Uploader) (*Publisher, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	n := cfg.Concurrency
	if n <= 0 {
		n = DefaultConcurrency
	}
	return &Publisher{
		bucket:      cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		concurrency: n,
		uploader:    u,
	}, nil
}

// Key returns the object key for a local file.
func (p *Publisher) Key(file string) string {
	name := filepath.Base(file)
	if p.prefix == "" {
		return name
	}
	return path.Join(p.prefix, name)
}

// Publish uploads each file (an archive or all of its volumes) and returns
// the object URIs in input order.
func (p *Publisher) Publish(ctx context.Context, files ...string) ([]string, error) {
	uris := make([]string, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, file := range files {
		g.Go(func() error {
			key := p.Key(file)
			if err := p.put(ctx, file, key); err != nil {
				return err
			}
			uris[i] = fmt.Sprintf("s3://%s/%s", p.bucket, key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return uris, nil
}

func (p *Publisher) put(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if ct := contentType(file); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if _, err := p.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("upload to s3://%s/%s: %w", p.bucket, key, err)
	}
	return nil
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".zip":
		return "application/zip"
	case ".tar":
		return "application/x-tar"
	case ".gz":
		return "application/gzip"
	case ".crate":
		return "application/vnd.crate"
	default:
		return "application/octet-stream"
	}
}
