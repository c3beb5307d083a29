// models содержит доменные сущности users-service.
// Эти типы используются слоями бизнес-логики, хранилища и транспорта;
// теги хранилищ живут в соответствующих пакетах storage.
package models

import (
	"time"

	"github.com/google/uuid"
)

// User — полная учётная запись, включая секреты.
// Наружу (в ответы API) не отдаётся: для этого есть Profile.
type User struct {
	ID            uuid.UUID
	Username      string
	Email         string
	FullName      string
	AvatarURL     string
	CoverImageURL string
	PasswordHash  string
	// RefreshToken — единственный активный refresh-токен; пусто, если сессии нет.
	RefreshToken     string
	RefreshExpiresAt time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Profile — санитизированная проекция учётной записи без пароля и refresh-токена.
// Хранилище возвращает её напрямую, проекцией на уровне запроса.
type Profile struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	FullName      string    `json:"fullName"`
	AvatarURL     string    `json:"avatar"`
	CoverImageURL string    `json:"coverImage"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ProfilePatch — частичное обновление профиля; nil-поля не трогаются.
type ProfilePatch struct {
	FullName      *string
	Email         *string
	AvatarURL     *string
	CoverImageURL *string
}

// Empty сообщает, что патч ничего не меняет.
func (p ProfilePatch) Empty() bool {
	return p.FullName == nil && p.Email == nil && p.AvatarURL == nil && p.CoverImageURL == nil
}
