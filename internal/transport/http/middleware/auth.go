package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pribylovaa/go-video-platform/internal/models"
	"github.com/pribylovaa/go-video-platform/internal/pkg/log"
	"github.com/pribylovaa/go-video-platform/internal/transport/http/response"
)

// Имена cookie с токенами.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

type userCtxKey struct{}

// SessionVerifier превращает access-токен в профиль (service.Service).
type SessionVerifier interface {
	VerifySession(ctx context.Context, raw string) (*models.Profile, error)
}

// VerifyJWT пропускает запрос дальше только с действующим access-токеном.
// Токен берётся из cookie accessToken, иначе из Authorization: Bearer.
// Профиль кладётся в контекст (см. UserFrom), user_id — в логгер.
func VerifyJWT(v SessionVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			profile, err := v.VerifySession(r.Context(), AccessToken(r))
			if err != nil {
				response.WriteError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), userCtxKey{}, profile)
			ctx = log.With(ctx, "user_id", profile.ID.String())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFrom достаёт профиль, положенный VerifyJWT.
func UserFrom(ctx context.Context) (*models.Profile, bool) {
	p, ok := ctx.Value(userCtxKey{}).(*models.Profile)
	return p, ok && p != nil
}

// WithUser кладёт профиль в контекст; нужен обработчикам вне VerifyJWT и тестам.
func WithUser(ctx context.Context, p *models.Profile) context.Context {
	return context.WithValue(ctx, userCtxKey{}, p)
}

// AccessToken извлекает сырой access-токен из cookie или заголовка Authorization.
func AccessToken(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}

	const prefix = "bearer "
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}

	return ""
}
