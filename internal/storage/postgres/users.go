package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pribylovaa/go-video-platform/internal/models"
	"github.com/pribylovaa/go-video-platform/internal/storage"
)

const (
	userColumns = `id, username, email, full_name, avatar, cover_image, password_hash,
		COALESCE(refresh_token, ''), refresh_expires_at, created_at, updated_at`

	// profileColumns — проекция без password_hash/refresh_token.
	profileColumns = `id, username, email, full_name, avatar, cover_image, created_at, updated_at`
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func scanUser(row pgx.Row) (*models.User, error) {
	var (
		u   models.User
		exp *time.Time
	)

	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.FullName,
		&u.AvatarURL,
		&u.CoverImageURL,
		&u.PasswordHash,
		&u.RefreshToken,
		&exp,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if exp != nil {
		u.RefreshExpiresAt = exp.UTC()
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()

	return &u, nil
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile

	err := row.Scan(
		&p.ID,
		&p.Username,
		&p.Email,
		&p.FullName,
		&p.AvatarURL,
		&p.CoverImageURL,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()

	return &p, nil
}

// CreateUser создаёт учётную запись.
func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	const op = "storage.postgres.CreateUser"

	query := `
		INSERT INTO users(id, username, email, full_name, avatar, cover_image, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.Exec(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.FullName,
		user.AvatarURL,
		user.CoverImageURL,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// UserByLogin ищет запись по username или email; пустые значения в поиске не участвуют.
func (s *Storage) UserByLogin(ctx context.Context, username, email string) (*models.User, error) {
	const op = "storage.postgres.UserByLogin"

	if username == "" && email == "" {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	query := `SELECT ` + userColumns + `
		FROM users
		WHERE ($1 <> '' AND username = $1) OR ($2 <> '' AND email = $2)
		LIMIT 1
	`

	u, err := scanUser(s.db.QueryRow(ctx, query, username, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// UserByID возвращает полную запись.
func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.postgres.UserByID"

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// ProfileByID возвращает проекцию без секретов.
func (s *Storage) ProfileByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	const op = "storage.postgres.ProfileByID"

	query := `SELECT ` + profileColumns + ` FROM users WHERE id = $1`

	p, err := scanProfile(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return p, nil
}

// SetRefreshToken перезаписывает слот refresh-токена.
func (s *Storage) SetRefreshToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) (*models.Profile, error) {
	const op = "storage.postgres.SetRefreshToken"

	query := `
		UPDATE users
		SET refresh_token = $2, refresh_expires_at = $3, updated_at = now()
		WHERE id = $1
		RETURNING ` + profileColumns

	p, err := scanProfile(s.db.QueryRow(ctx, query, id, token, expiresAt.UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return p, nil
}

// RotateRefreshToken — compare-and-swap слота: UPDATE применяется, только если там current.
func (s *Storage) RotateRefreshToken(ctx context.Context, id uuid.UUID, current, next string, expiresAt time.Time) error {
	const op = "storage.postgres.RotateRefreshToken"

	query := `
		UPDATE users
		SET refresh_token = $3, refresh_expires_at = $4, updated_at = now()
		WHERE id = $1 AND refresh_token = $2
	`

	tag, err := s.db.Exec(ctx, query, id, current, next, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if !exists {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return fmt.Errorf("%s: %w", op, storage.ErrConflict)
}

// ClearRefreshToken обнуляет слот refresh-токена.
func (s *Storage) ClearRefreshToken(ctx context.Context, id uuid.UUID) error {
	const op = "storage.postgres.ClearRefreshToken"

	query := `
		UPDATE users
		SET refresh_token = NULL, refresh_expires_at = NULL, updated_at = now()
		WHERE id = $1
	`

	tag, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// UpdatePassword заменяет хэш пароля.
func (s *Storage) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	const op = "storage.postgres.UpdatePassword"

	tag, err := s.db.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, hash,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// UpdateProfile применяет частичный патч; SET собирается только из заданных полей.
func (s *Storage) UpdateProfile(ctx context.Context, id uuid.UUID, patch models.ProfilePatch) (*models.Profile, error) {
	const op = "storage.postgres.UpdateProfile"

	if patch.Empty() {
		return s.ProfileByID(ctx, id)
	}

	sets := []string{"updated_at = now()"}
	args := []any{id}
	add := func(col string, v *string) {
		if v == nil {
			return
		}
		args = append(args, *v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	add("full_name", patch.FullName)
	add("email", patch.Email)
	add("avatar", patch.AvatarURL)
	add("cover_image", patch.CoverImageURL)

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + profileColumns

	p, err := scanProfile(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		case isUniqueViolation(err):
			return nil, fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		default:
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return p, nil
}

// ClearExpiredRefreshTokens обнуляет просроченные слоты.
func (s *Storage) ClearExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.ClearExpiredRefreshTokens"

	tag, err := s.db.Exec(ctx, `
		UPDATE users
		SET refresh_token = NULL, refresh_expires_at = NULL
		WHERE refresh_expires_at IS NOT NULL AND refresh_expires_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}
