// Package s3 uploads Zarr stores to AWS S3 (or any S3 compatible endpoint).
package s3

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mohammed-shakir/analytics-datacube/internal/storage"
)

type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	DefaultBucket   string
	// Endpoint switches to path-style addressing against a custom endpoint.
	Endpoint   string
	HTTPClient *http.Client
}

type Uploader struct {
	cfg    Config
	bucket string
	logger *slog.Logger
}

var _ storage.Uploader = (*Uploader)(nil)

// New falls back to cfg.DefaultBucket when bucket is empty.
func New(cfg Config, bucket string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	b := strings.TrimSpace(bucket)
	if b == "" {
		b = cfg.DefaultBucket
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &Uploader{cfg: cfg, bucket: b, logger: logger}
}

func Factory(cfg Config, logger *slog.Logger) storage.Factory {
	return func(opts storage.Options) (storage.Uploader, error) {
		return New(cfg, opts.Bucket, logger), nil
	}
}

func (u *Uploader) Name() string { return string(storage.AWSS3) }

func (u *Uploader) Bucket() string { return u.bucket }

func (u *Uploader) CheckCredentials() error {
	if u.cfg.AccessKeyID == "" || u.cfg.SecretAccessKey == "" {
		return fmt.Errorf("%w: Missing AWS credentials", storage.ErrCredentialsMissing)
	}
	if u.bucket == "" {
		return fmt.Errorf("%w: no S3 bucket given and AWS_BUCKET_NAME is not set", storage.ErrCredentialsMissing)
	}
	return nil
}

// Upload puts every file of the store under "<basename>/<relpath>" and
// returns s3://<bucket>/<basename>.
func (u *Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	if err := u.CheckCredentials(); err != nil {
		return "", err
	}
	files, err := storage.Files(localPath)
	if err != nil {
		return "", err
	}

	up := manager.NewUploader(u.client())
	base := filepath.Base(localPath)
	for _, f := range files {
		key := base + "/" + f.Rel
		if err := u.put(ctx, up, f.Path, key); err != nil {
			return "", fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
		}
	}

	uri := URI(u.bucket, localPath)
	u.logger.InfoContext(ctx, "uploaded store to s3",
		"uri", uri,
		"objects", len(files),
		"bytes", storage.TotalSize(files),
	)
	return uri, nil
}

func (u *Uploader) put(ctx context.Context, up *manager.Uploader, path, key string) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = fh.Close() }()

	_, err = up.Upload(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   fh,
	})
	return err
}

func (u *Uploader) client() *awss3.Client {
	opts := awss3.Options{
		Region:                     u.cfg.Region,
		Credentials:                credentials.NewStaticCredentialsProvider(u.cfg.AccessKeyID, u.cfg.SecretAccessKey, ""),
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	}
	if u.cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(u.cfg.Endpoint)
		opts.UsePathStyle = true
	}
	if u.cfg.HTTPClient != nil {
		opts.HTTPClient = u.cfg.HTTPClient
	}
	return awss3.New(opts)
}

// URI is the s3:// link of a store uploaded from localPath.
func URI(bucket, localPath string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, filepath.Base(localPath))
}
