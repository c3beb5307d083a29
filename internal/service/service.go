// service содержит бизнес-логику users-service: регистрацию, вход, выход,
// ротацию refresh-токена, смену пароля, проверку сессии и обновление профиля.
//
// Основные аспекты:
//   - Service не хранит состояние запроса; экземпляр безопасен для конкурентного
//     использования при условии потокобезопасности переданных зависимостей.
//   - Все зависимости (хранилище, медиа, хэшер, токены) внедряются через New.
//   - Ошибки возвращаются как sentinel-значения ниже; HTTP-транспорт маппит их
//     в статусы в одном месте (transport/http/response).
package service

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-video-platform/internal/models"
	"github.com/pribylovaa/go-video-platform/internal/storage"
)

// Сообщения ошибок уходят клиенту как есть, поэтому не содержат деталей.
var (
	// ErrFieldsRequired — обязательное поле пустое после TrimSpace. Транспорт: HTTP 400.
	ErrFieldsRequired = errors.New("all fields are required")
	// ErrInvalidEmail — e-mail не разбирается как адрес. Транспорт: HTTP 400.
	ErrInvalidEmail = errors.New("invalid email format")
	// ErrAvatarRequired — при регистрации не передан файл аватара. Транспорт: HTTP 400.
	ErrAvatarRequired = errors.New("avatar file is required")
	// ErrAvatarUpload — аватар не удалось загрузить. Транспорт: HTTP 400.
	ErrAvatarUpload = errors.New("error while uploading avatar")
	// ErrCoverImageRequired — не передан файл обложки. Транспорт: HTTP 400.
	ErrCoverImageRequired = errors.New("cover image file is required")
	// ErrCoverImageUpload — обложку не удалось загрузить. Транспорт: HTTP 400.
	ErrCoverImageUpload = errors.New("error while uploading cover image")
	// ErrPasswordMismatch — новый пароль и подтверждение различаются. Транспорт: HTTP 400.
	ErrPasswordMismatch = errors.New("new password and confirm password do not match")
	// ErrPasswordTooLong — пароль длиннее предела bcrypt (72 байта). Транспорт: HTTP 400.
	ErrPasswordTooLong = errors.New("password must not exceed 72 bytes")
	// ErrNothingToUpdate — в запросе на обновление нет ни одного поля. Транспорт: HTTP 400.
	ErrNothingToUpdate = errors.New("at least one field is required")

	// ErrUserExists — username или e-mail уже заняты. Транспорт: HTTP 409.
	ErrUserExists = errors.New("user with email or username already exists")

	// ErrLoginRequired — при входе не передан ни username, ни e-mail. Транспорт: HTTP 400.
	ErrLoginRequired = errors.New("username or email is required")
	// ErrUserNotFound — учётная запись не найдена. Транспорт: HTTP 404.
	ErrUserNotFound = errors.New("user does not exist")

	// ErrUnauthorized — токен не передан. Транспорт: HTTP 401.
	ErrUnauthorized = errors.New("unauthorized request")
	// ErrInvalidCredentials — пароль не подошёл. Транспорт: HTTP 401.
	ErrInvalidCredentials = errors.New("invalid user credentials")
	// ErrInvalidToken — токен не прошёл проверку подписи/срока/формата. Транспорт: HTTP 401.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenReused — refresh-токен валиден, но уже не совпадает с сохранённым. Транспорт: HTTP 401.
	ErrTokenReused = errors.New("refresh token is expired or used")
	// ErrInvalidOldPassword — текущий пароль при смене не подошёл. Транспорт: HTTP 401.
	ErrInvalidOldPassword = errors.New("invalid old password")

	// ErrInternal — сбой хранилища/подписи/хэширования; причина пишется в лог. Транспорт: HTTP 500.
	ErrInternal = errors.New("internal error")
)

// maxPasswordBytes — предел длины пароля, который принимает bcrypt.
const maxPasswordBytes = 72

// PasswordHasher — хэширование паролей (password.Bcrypt).
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) bool
}

// TokenManager — выпуск и проверка JWT (token.Manager).
type TokenManager interface {
	IssueAccess(claims models.AccessClaims) (string, time.Time, error)
	IssueRefresh(userID uuid.UUID) (string, time.Time, error)
	VerifyAccess(raw string) (*models.AccessClaims, error)
	VerifyRefresh(raw string) (uuid.UUID, error)
}

// Observer получает исход каждой операции (metrics.Auth).
type Observer interface {
	Observe(op, outcome string)
}

// Options — необязательные параметры Service.
type Options struct {
	// RevokeSessionsOnPasswordChange — очищать refresh-токен после смены пароля.
	RevokeSessionsOnPasswordChange bool
	Observer                       Observer
}

// Service описывает бизнес-логику users-service.
type Service struct {
	storage storage.Storage
	media   storage.Media
	hasher  PasswordHasher
	tokens  TokenManager
	opts    Options
	now     func() time.Time
}

// New создаёт Service с внедрёнными зависимостями.
func New(st storage.Storage, media storage.Media, hasher PasswordHasher, tokens TokenManager, opts Options) *Service {
	return &Service{
		storage: st,
		media:   media,
		hasher:  hasher,
		tokens:  tokens,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// observe сообщает исход операции наблюдателю, если он задан.
func (s *Service) observe(op string, err error) {
	if s.opts.Observer == nil {
		return
	}

	s.opts.Observer.Observe(op, Outcome(err))
}

// Outcome сворачивает ошибку сервиса в метку для метрик.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTokenReused):
		return "reused"
	case errors.Is(err, ErrInternal):
		return "error"
	default:
		return "rejected"
	}
}
