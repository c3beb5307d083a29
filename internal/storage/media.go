package storage

import (
	"context"
	"errors"

	"github.com/pribylovaa/go-video-platform/internal/models"
)

// ErrInvalidMedia — файл не прошёл ограничения (тип/размер).
var ErrInvalidMedia = errors.New("invalid media")

// Media — контракт загрузки изображений в объектное хранилище.
type Media interface {
	// Upload сохраняет файл и возвращает его публичный URL.
	Upload(ctx context.Context, file models.MediaUpload) (string, error)
	// Remove удаляет ранее загруженный объект по его публичному URL.
	Remove(ctx context.Context, publicURL string) error
}
