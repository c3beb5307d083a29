// minio предоставляет реализацию storage.Media на базе MinIO/S3.
// minio.go — конструктор клиента: нормализует endpoint, настраивает
// Secure/creds и проверяет наличие бакета.
// media.go — загрузка аватаров и обложек и сборка публичного URL.
package minio

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pribylovaa/go-video-platform/internal/config"
	"github.com/pribylovaa/go-video-platform/internal/storage"
)

// MediaStorage — адаптер MinIO для изображений профиля.
type MediaStorage struct {
	s3     config.S3Config
	limits config.MediaConfig
	client *mclient.Client
}

// New создаёт клиент MinIO и выполняет fail-fast-проверку бакета.
// Схема в endpoint ("https://host:9000") имеет приоритет над S3.UseSSL.
func New(ctx context.Context, s3 config.S3Config, limits config.MediaConfig) (*MediaStorage, error) {
	const op = "storage/minio/New"

	endpoint := s3.Endpoint
	secure := s3.UseSSL

	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}

	client, err := mclient.New(endpoint, &mclient.Options{
		Creds:  credentials.NewStaticV4(s3.AccessKey, s3.SecretKey, ""),
		Secure: secure,
		Region: s3.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := client.BucketExists(ctx, s3.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !exists {
		return nil, fmt.Errorf("%s: bucket %q does not exist", op, s3.Bucket)
	}

	if s3.PublicBaseURL == "" {
		s3.PublicBaseURL = strings.TrimRight(client.EndpointURL().String(), "/") + "/" + s3.Bucket
	}

	return &MediaStorage{s3: s3, limits: limits, client: client}, nil
}

var _ storage.Media = (*MediaStorage)(nil)
