// token выпускает и проверяет JWT users-service.
//
// Access-токен несёт идентичность пользователя (id, username, email, full name),
// refresh-токен — только id. Типы подписываются разными секретами, поэтому
// refresh-токен не пройдёт проверку как access и наоборот.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pribylovaa/go-video-platform/internal/config"
	"github.com/pribylovaa/go-video-platform/internal/models"
)

var (
	// ErrInvalidToken — неверный формат, подпись, issuer/audience или payload.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired — срок действия истёк.
	ErrTokenExpired = errors.New("token expired")
	// ErrMissingSecret — секрет подписи не сконфигурирован.
	ErrMissingSecret = errors.New("missing signing secret")
)

const leeway = 5 * time.Second

type accessClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Manager — выпуск и проверка пары токенов. Безопасен для конкурентного использования.
type Manager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	audience      []string
	now           func() time.Time
}

// NewManager собирает Manager из конфигурации. Пустые секреты не отвергаются
// здесь: выпуск и проверка с ними возвращают ErrMissingSecret.
func NewManager(cfg config.AuthConfig) *Manager {
	return &Manager{
		accessSecret:  []byte(cfg.AccessTokenSecret),
		refreshSecret: []byte(cfg.RefreshTokenSecret),
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		now:           time.Now,
	}
}

func (m *Manager) registered(userID uuid.UUID, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID.String(),
		Issuer:    m.issuer,
		Audience:  jwt.ClaimStrings(m.audience),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

// IssueAccess подписывает access-токен и возвращает момент его истечения.
func (m *Manager) IssueAccess(c models.AccessClaims) (string, time.Time, error) {
	const op = "token.IssueAccess"

	if len(m.accessSecret) == 0 {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, ErrMissingSecret)
	}

	now := m.now().UTC()
	claims := accessClaims{
		UserID:           c.UserID.String(),
		Username:         c.Username,
		Email:            c.Email,
		FullName:         c.FullName,
		RegisteredClaims: m.registered(c.UserID, now, m.accessTTL),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, claims.ExpiresAt.Time, nil
}

// IssueRefresh подписывает refresh-токен. Каждый токен получает уникальный jti,
// так что две ротации в одну секунду дают разные строки.
func (m *Manager) IssueRefresh(userID uuid.UUID) (string, time.Time, error) {
	const op = "token.IssueRefresh"

	if len(m.refreshSecret) == 0 {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, ErrMissingSecret)
	}

	now := m.now().UTC()
	claims := refreshClaims{
		UserID:           userID.String(),
		RegisteredClaims: m.registered(userID, now, m.refreshTTL),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, claims.ExpiresAt.Time, nil
}

// VerifyAccess проверяет подпись, срок, issuer и audience access-токена.
func (m *Manager) VerifyAccess(raw string) (*models.AccessClaims, error) {
	const op = "token.VerifyAccess"

	var claims accessClaims
	if err := m.parse(raw, m.accessSecret, &claims); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: uid: %w", op, ErrInvalidToken)
	}

	return &models.AccessClaims{
		UserID:   uid,
		Username: claims.Username,
		Email:    claims.Email,
		FullName: claims.FullName,
	}, nil
}

// VerifyRefresh проверяет refresh-токен и возвращает id пользователя.
// Сверка с сохранённым значением — забота вызывающей стороны.
func (m *Manager) VerifyRefresh(raw string) (uuid.UUID, error) {
	const op = "token.VerifyRefresh"

	var claims refreshClaims
	if err := m.parse(raw, m.refreshSecret, &claims); err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: uid: %w", op, ErrInvalidToken)
	}

	return uid, nil
}

func (m *Manager) parse(raw string, secret []byte, claims jwt.Claims) error {
	if len(secret) == 0 {
		return ErrMissingSecret
	}

	if raw == "" {
		return ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if len(m.audience) > 0 {
		opts = append(opts, jwt.WithAudience(m.audience...))
	}

	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}

		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !tok.Valid {
		return ErrInvalidToken
	}

	return nil
}
