package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"ideaboard/api/internal/apperr"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	MaxBytes  int64
}

// Minio stores images in an S3-compatible bucket.
type Minio struct {
	client   *minio.Client
	bucket   string
	region   string
	maxBytes int64
	logger   *slog.Logger
}

func NewMinio(cfg MinioConfig, logger *slog.Logger) (*Minio, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("object store endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Minio{client: client, bucket: cfg.Bucket, region: cfg.Region, maxBytes: cfg.MaxBytes, logger: logger}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (m *Minio) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	m.logger.Info("objectstore: bucket created", "bucket", m.bucket)
	return nil
}

func (m *Minio) Upload(ctx context.Context, sessionID string, img Image) (string, error) {
	ext, err := Validate(img, m.maxBytes)
	if err != nil {
		return "", err
	}
	path := ObjectPath(sessionID, ext)
	_, err = m.client.PutObject(ctx, m.bucket, path, bytes.NewReader(img.Data), int64(len(img.Data)), minio.PutObjectOptions{
		ContentType: img.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w: %w", path, apperr.ErrTransient, err)
	}
	m.logger.Debug("objectstore: uploaded", "path", path, "bytes", len(img.Data))
	return path, nil
}

func (m *Minio) Delete(ctx context.Context, path string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w: %w", path, apperr.ErrTransient, err)
	}
	return nil
}
