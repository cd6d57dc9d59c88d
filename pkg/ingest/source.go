package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v5"
)

// ErrNotFound is returned by a Source when a dataset file does not exist.
var ErrNotFound = errors.New("dataset file not found")

// Source resolves a dataset to a local CSV path DuckDB can read.
type Source interface {
	Fetch(ctx context.Context, ds Dataset) (string, error)
}

// LocalSource reads datasets from a directory.
type LocalSource struct {
	Dir string
}

func (s LocalSource) Fetch(_ context.Context, ds Dataset) (string, error) {
	p := filepath.Join(s.Dir, ds.File)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return "", fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return p, nil
}

// S3API is the subset of the S3 client used by S3Source.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3ClientConfig struct {
	Region string

	// Endpoint overrides the AWS endpoint (for MinIO and other compatible
	// stores) and switches to path-style addressing.
	Endpoint string

	// AccessKeyID and SecretAccessKey, when set, replace the default
	// credential chain.
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds an S3 client from the default AWS configuration with
// the overrides in cfg applied.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

type S3SourceConfig struct {
	Logger   *slog.Logger
	Client   S3API
	Bucket   string
	Prefix   string
	CacheDir string

	// MaxTries bounds download attempts per object. Defaults to 5.
	MaxTries uint
}

func (cfg *S3SourceConfig) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Client == nil {
		return fmt.Errorf("s3 client is required")
	}
	if cfg.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if cfg.CacheDir == "" {
		return fmt.Errorf("cache dir is required")
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 5
	}
	return nil
}

// S3Source downloads dataset objects into a local cache directory before
// they are loaded.
type S3Source struct {
	cfg S3SourceConfig
	log *slog.Logger
}

func NewS3Source(cfg S3SourceConfig) (*S3Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &S3Source{cfg: cfg, log: cfg.Logger}, nil
}

func (s *S3Source) Fetch(ctx context.Context, ds Dataset) (string, error) {
	key := ds.File
	if s.cfg.Prefix != "" {
		key = path.Join(s.cfg.Prefix, ds.File)
	}
	dest := filepath.Join(s.cfg.CacheDir, ds.Table+".csv")

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.download(ctx, key, dest)
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: s3://%s/%s", ErrNotFound, s.cfg.Bucket, key))
		}
		if err != nil {
			s.log.Warn("ingest: s3 download failed, retrying", "key", key, "attempt", attempt, "error", err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.cfg.MaxTries))
	if err != nil {
		return "", err
	}

	s.log.Debug("ingest: downloaded dataset", "key", key, "path", dest)
	return dest, nil
}

func (s *S3Source) download(ctx context.Context, key, dest string) error {
	out, err := s.cfg.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer out.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
