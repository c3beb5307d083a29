package models

import (
	"time"

	"github.com/google/uuid"
)

// AccessClaims — полезная нагрузка access-токена.
type AccessClaims struct {
	UserID   uuid.UUID
	Username string
	Email    string
	FullName string
}

// TokenPair — пара токенов, выдаваемая при входе и обновлении сессии.
//
// Описание:
//   - AccessToken — короткоживущий JWT с идентичностью пользователя;
//   - RefreshToken — JWT только с id пользователя; его точная копия хранится
//     в учётной записи и сверяется при обновлении;
//   - *ExpiresAt — моменты истечения (UTC).
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Session — результат успешного входа.
type Session struct {
	User   *Profile
	Tokens TokenPair
}
