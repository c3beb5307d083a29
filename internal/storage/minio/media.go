package minio

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	mclient "github.com/minio/minio-go/v7"
	"github.com/pribylovaa/go-video-platform/internal/models"
	"github.com/pribylovaa/go-video-platform/internal/storage"
)

// Upload валидирует файл по размеру и типу и кладёт его под ключ
// "<kind>/<uuid><ext>". Возвращает публичный URL объекта.
func (s *MediaStorage) Upload(ctx context.Context, file models.MediaUpload) (string, error) {
	const op = "storage/minio/Upload"

	if file.Body == nil || file.Size <= 0 || file.Size > s.limits.MaxSizeBytes {
		return "", fmt.Errorf("%s: size %d: %w", op, file.Size, storage.ErrInvalidMedia)
	}

	contentType := normalizeContentType(file.ContentType)
	if !isAllowedContentType(s.limits.AllowedContentTypes, contentType) {
		return "", fmt.Errorf("%s: content type %q: %w", op, contentType, storage.ErrInvalidMedia)
	}

	kind := file.Kind
	if kind == "" {
		kind = models.MediaAvatar
	}

	key := path.Join(string(kind), uuid.NewString()+extFor(contentType))

	_, err := s.client.PutObject(ctx, s.s3.Bucket, key, file.Body, file.Size, mclient.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return s.publicURL(key), nil
}

// Remove удаляет объект по его публичному URL. Отсутствующий объект — не ошибка.
func (s *MediaStorage) Remove(ctx context.Context, publicURL string) error {
	const op = "storage/minio/Remove"

	prefix := strings.TrimRight(s.s3.PublicBaseURL, "/") + "/"
	key, ok := strings.CutPrefix(publicURL, prefix)
	if !ok || key == "" {
		return fmt.Errorf("%s: foreign url: %w", op, storage.ErrInvalidMedia)
	}

	if err := s.client.RemoveObject(ctx, s.s3.Bucket, key, mclient.RemoveObjectOptions{}); err != nil {
		errResp := mclient.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.StatusCode == 404 {
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *MediaStorage) publicURL(key string) string {
	return strings.TrimRight(s.s3.PublicBaseURL, "/") + "/" + key
}

// normalizeContentType отбрасывает параметры ("image/png; charset=..." -> "image/png").
func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}

	return strings.ToLower(strings.TrimSpace(ct))
}

func isAllowedContentType(allowed []string, ct string) bool {
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(a), ct) {
			return true
		}
	}

	return false
}

func extFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ""
	}
}
