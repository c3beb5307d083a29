// storage содержит контракты слоя хранилищ users-service.
//
// storage.go — учётные записи пользователей (mongo/postgres реализации).
// media.go — загрузка аватаров и обложек в S3/MinIO.
package storage

//go:generate mockgen -source=storage.go -destination=../../mocks/storage.go -package=mocks
//go:generate mockgen -source=media.go -destination=../../mocks/media.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-video-platform/internal/models"
)

var (
	// ErrNotFound — учётная запись не найдена.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (username/email).
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict — условное обновление не применилось: сохранённое значение
	// уже отличается от ожидаемого (refresh-токен был ротирован параллельно).
	ErrConflict = errors.New("conflict")
)

// UserStorage выполняет операции над учётными записями.
// Все строки на входе уже нормализованы сервисным слоем.
type UserStorage interface {
	// CreateUser создаёт учётную запись.
	CreateUser(ctx context.Context, user *models.User) error
	// UserByLogin ищет запись по username ИЛИ email; пустые значения не участвуют в поиске.
	UserByLogin(ctx context.Context, username, email string) (*models.User, error)
	// UserByID возвращает полную запись, включая хэш пароля и refresh-токен.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// ProfileByID возвращает проекцию без секретов.
	ProfileByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	// SetRefreshToken безусловно перезаписывает слот refresh-токена и возвращает профиль.
	SetRefreshToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) (*models.Profile, error)
	// RotateRefreshToken атомарно заменяет current на next.
	// Если в слоте уже не current — ErrConflict, если записи нет — ErrNotFound.
	RotateRefreshToken(ctx context.Context, id uuid.UUID, current, next string, expiresAt time.Time) error
	// ClearRefreshToken очищает слот refresh-токена.
	ClearRefreshToken(ctx context.Context, id uuid.UUID) error
	// UpdatePassword заменяет хэш пароля.
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	// UpdateProfile применяет частичный патч и возвращает обновлённый профиль.
	UpdateProfile(ctx context.Context, id uuid.UUID, patch models.ProfilePatch) (*models.Profile, error)
	// ClearExpiredRefreshTokens очищает слоты, срок которых истёк к now.
	ClearExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// Storage задаёт контракт работы с БД учётных записей.
type Storage interface {
	UserStorage
	Close()
}
