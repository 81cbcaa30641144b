// Package archive keeps a content-addressed copy of every ingested
// file in an S3-compatible bucket. Uploads happen after the relational
// commit and are best-effort; the bucket is an operator convenience,
// not a source of truth.
package archive

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/hsn0918/memex/internal/config"
	"github.com/hsn0918/memex/internal/detect"
)

// Archive uploads raw files keyed by their content fingerprint. A
// zero-configured archive is valid and does nothing.
type Archive struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// New builds the archive client. Without endpoint and bucket settings
// it returns a disabled instance.
func New(cfg config.Config, logger *zap.Logger) (*Archive, error) {
	if !cfg.ArchiveEnabled() {
		return &Archive{logger: logger}, nil
	}

	client, err := minio.New(cfg.Archive.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Archive.AccessKeyID, cfg.Archive.SecretAccessKey, ""),
		Secure: cfg.Archive.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create archive client: %w", err)
	}

	return &Archive{
		client: client,
		bucket: cfg.Archive.BucketName,
		logger: logger,
	}, nil
}

// Enabled reports whether uploads will happen.
func (a *Archive) Enabled() bool {
	return a.client != nil
}

// EnsureBucket creates the bucket on first start.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	if !a.Enabled() {
		return nil
	}

	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check archive bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create archive bucket: %w", err)
	}
	a.logger.Info("archive bucket created", zap.String("bucket", a.bucket))
	return nil
}

// ArchiveFile uploads one file under its fingerprint. An object that
// already exists is left alone; identical content has identical keys.
func (a *Archive) ArchiveFile(ctx context.Context, path, fingerprint string) error {
	if !a.Enabled() {
		return nil
	}

	key := objectKey(path, fingerprint)

	_, err := a.client.StatObject(ctx, a.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return nil
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("check archived object: %w", err)
	}

	_, err = a.client.FPutObject(ctx, a.bucket, key, path, minio.PutObjectOptions{
		ContentType: contentType(path),
	})
	if err != nil {
		return fmt.Errorf("archive upload: %w", err)
	}

	a.logger.Info("raw file archived",
		zap.String("key", key),
		zap.String("path", path))
	return nil
}

// objectKey fans objects out by fingerprint prefix and keeps the
// extension so bucket listings stay readable.
func objectKey(path, fingerprint string) string {
	prefix := fingerprint
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return prefix + "/" + fingerprint + filepath.Ext(path)
}

func contentType(path string) string {
	switch detect.DetectType(path) {
	case detect.SourceMail:
		return "application/mbox"
	case detect.SourcePDF:
		return "application/pdf"
	case detect.SourceMarkdown:
		return "text/markdown"
	default:
		return "application/octet-stream"
	}
}
