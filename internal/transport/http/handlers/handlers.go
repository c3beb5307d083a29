// handlers — REST-обработчики users-service. Обработчик разбирает вход,
// вызывает сервис и пишет конверт; все ошибки уходят в response.WriteError.
package handlers

//go:generate mockgen -source=handlers.go -destination=mock_service_test.go -package=handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-video-platform/internal/config"
	"github.com/pribylovaa/go-video-platform/internal/models"
	"github.com/pribylovaa/go-video-platform/internal/service"
	"github.com/pribylovaa/go-video-platform/internal/transport/http/middleware"
	"github.com/pribylovaa/go-video-platform/internal/transport/http/response"
)

// AuthService — то, что обработчикам нужно от service.Service.
type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput) (*models.Profile, error)
	Login(ctx context.Context, in service.LoginInput) (*models.Session, error)
	Logout(ctx context.Context, userID uuid.UUID) error
	RefreshAccessToken(ctx context.Context, raw string) (*models.TokenPair, error)
	ChangePassword(ctx context.Context, in service.ChangePasswordInput) error
	VerifySession(ctx context.Context, raw string) (*models.Profile, error)
	CurrentUser(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	UpdateAccountDetails(ctx context.Context, in service.UpdateAccountInput) (*models.Profile, error)
	UpdateAvatar(ctx context.Context, userID uuid.UUID, file *models.MediaUpload) (*models.Profile, error)
	UpdateCoverImage(ctx context.Context, userID uuid.UUID, file *models.MediaUpload) (*models.Profile, error)
}

// Options — лимиты разбора тел и атрибуты cookie.
type Options struct {
	Cookies config.CookieConfig
	// JSONBodyBytes — максимум для JSON-тел.
	JSONBodyBytes int64
	// MultipartMemoryBytes — сколько multipart-данных держать в памяти (остальное во временных файлах).
	MultipartMemoryBytes int64
	// MultipartBodyBytes — максимум для multipart-тел целиком.
	MultipartBodyBytes int64
}

// Handlers агрегирует зависимости обработчиков.
type Handlers struct {
	svc  AuthService
	opts Options
}

func New(svc AuthService, opts Options) *Handlers {
	if opts.JSONBodyBytes <= 0 {
		opts.JSONBodyBytes = 16 << 10
	}
	if opts.MultipartMemoryBytes <= 0 {
		opts.MultipartMemoryBytes = 8 << 20
	}
	if opts.MultipartBodyBytes <= 0 {
		opts.MultipartBodyBytes = 16 << 20
	}

	return &Handlers{svc: svc, opts: opts}
}

// decodeStrict — строгий JSON: неизвестные поля, хвост после объекта и
// превышение лимита дают response.ErrBadRequest. allowEmpty разрешает пустое тело.
func (h *Handlers) decodeStrict(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.opts.JSONBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}

		return fmt.Errorf("%w: %v", response.ErrBadRequest, err)
	}

	if dec.More() {
		return fmt.Errorf("%w: trailing data", response.ErrBadRequest)
	}

	return nil
}

// parseMultipart разбирает multipart/form-data с ограничением размера.
func (h *Handlers) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MultipartBodyBytes)

	if err := r.ParseMultipartForm(h.opts.MultipartMemoryBytes); err != nil {
		return fmt.Errorf("%w: %v", response.ErrBadRequest, err)
	}

	return nil
}

// formFile возвращает файл поля field или nil, если поле не передано.
// Вызывающий закрывает возвращённую функцию close.
func formFile(r *http.Request, field string) (*models.MediaUpload, func(), error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, func() {}, nil
		}

		return nil, func() {}, fmt.Errorf("%w: %v", response.ErrBadRequest, err)
	}

	return uploadFrom(f, hdr), func() { _ = f.Close() }, nil
}

func uploadFrom(f multipart.File, hdr *multipart.FileHeader) *models.MediaUpload {
	return &models.MediaUpload{
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Size:        hdr.Size,
		Body:        f,
	}
}

// currentUser достаёт профиль, положенный middleware.VerifyJWT.
func currentUser(r *http.Request) (*models.Profile, error) {
	p, ok := middleware.UserFrom(r.Context())
	if !ok {
		return nil, service.ErrUnauthorized
	}

	return p, nil
}

func (h *Handlers) cookie(name, value string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     h.opts.Cookies.Path,
		Domain:   h.opts.Cookies.Domain,
		HttpOnly: true,
		Secure:   h.opts.Cookies.Secure,
		SameSite: h.opts.Cookies.SameSiteMode(),
	}
	if c.Path == "" {
		c.Path = "/"
	}

	if value == "" {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		return c
	}

	c.Expires = expires
	c.MaxAge = int(time.Until(expires).Seconds())

	return c
}

func (h *Handlers) setTokenCookies(w http.ResponseWriter, pair models.TokenPair) {
	http.SetCookie(w, h.cookie(middleware.AccessTokenCookie, pair.AccessToken, pair.AccessExpiresAt))
	http.SetCookie(w, h.cookie(middleware.RefreshTokenCookie, pair.RefreshToken, pair.RefreshExpiresAt))
}

func (h *Handlers) clearTokenCookies(w http.ResponseWriter) {
	http.SetCookie(w, h.cookie(middleware.AccessTokenCookie, "", time.Time{}))
	http.SetCookie(w, h.cookie(middleware.RefreshTokenCookie, "", time.Time{}))
}
