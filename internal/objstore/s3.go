// Package objstore fetches batch videos from S3-compatible object storage.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"
)

// ErrDisabled is returned by Fetch when no bucket is configured.
var ErrDisabled = errors.New("object storage is not configured")

// Config locates the bucket. An empty Bucket disables the source.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// S3Source downloads objects to local files.
type S3Source struct {
	bucket     string
	downloader *s3manager.Downloader
}

// New creates a source for cfg. With no bucket it returns a disabled source.
func New(cfg Config) (*S3Source, error) {
	if cfg.Bucket == "" {
		return &S3Source{}, nil
	}

	awsCfg := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}

	return &S3Source{
		bucket:     cfg.Bucket,
		downloader: s3manager.NewDownloader(sess),
	}, nil
}

// Enabled reports whether a bucket is configured.
func (s *S3Source) Enabled() bool {
	return s != nil && s.downloader != nil
}

// Fetch downloads key into dir under a unique name that keeps the key's
// extension, and returns the local path. The caller removes the file.
func (s *S3Source) Fetch(ctx context.Context, key, dir string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}

	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	dst := filepath.Join(dir, uuid.NewString()+path.Ext(key))
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}

	_, err = s.downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("download s3://%s/%s: %w", s.bucket, key, err)
	}

	return dst, nil
}
