package backup

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pribylovaa/go-news-crawler/internal/config"
)

// Minio — снапшоты в S3-совместимый бакет.
type Minio struct {
	client *mclient.Client
	bucket string
	prefix string
	now    func() time.Time
}

// NewMinio создаёт клиента MinIO.
// Схема endpoint определяет Secure; бакет должен существовать (fail-fast).
func NewMinio(ctx context.Context, cfg config.S3Config, now func() time.Time) (*Minio, error) {
	const op = "backup.NewMinio"

	endpoint := cfg.Endpoint
	secure := strings.HasPrefix(endpoint, "https://")

	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}

	client, err := mclient.New(endpoint, &mclient.Options{
		Creds:  credentials.NewStaticV4(cfg.RootUser, cfg.RootPassword, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !exists {
		return nil, fmt.Errorf("%s: bucket %q does not exist", op, cfg.Bucket)
	}

	if now == nil {
		now = time.Now
	}

	return &Minio{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, now: now}, nil
}

// Snapshot загружает payload объектом <prefix>/<name>.json и возвращает s3://bucket/key.
func (m *Minio) Snapshot(ctx context.Context, prefix string, payload any) (string, error) {
	const op = "backup.Minio.Snapshot"

	data, err := encode(payload)
	if err != nil {
		return "", fmt.Errorf("%s: encode: %w", op, err)
	}

	key := path.Join(m.prefix, Name(prefix, m.now()))

	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), mclient.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return fmt.Sprintf("s3://%s/%s", m.bucket, key), nil
}

var _ Snapshotter = (*Minio)(nil)
