package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-video-platform/internal/models"
	"github.com/pribylovaa/go-video-platform/internal/pkg/log"
	"github.com/pribylovaa/go-video-platform/internal/pkg/redact"
	"github.com/pribylovaa/go-video-platform/internal/storage"
)

// RegisterInput — данные регистрации. Avatar обязателен, CoverImage — нет.
type RegisterInput struct {
	Username   string
	Email      string
	Password   string
	FullName   string
	Avatar     *models.MediaUpload
	CoverImage *models.MediaUpload
}

// LoginInput — вход по username или e-mail (достаточно одного).
type LoginInput struct {
	Username string
	Email    string
	Password string
}

// ChangePasswordInput — смена пароля текущего пользователя.
// ConfirmPassword сверяется с NewPassword, если передан.
type ChangePasswordInput struct {
	UserID          uuid.UUID
	OldPassword     string
	NewPassword     string
	ConfirmPassword string
}

// validEmail принимает только голый адрес: формы с display-name
// ("Bob <bob@x.com>") и угловыми скобками отклоняются.
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// normalize приводит username/e-mail к каноническому виду хранения.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Register создаёт учётную запись.
//
// Порядок: пустые поля -> формат e-mail -> занятость username/e-mail ->
// аватар (обязателен) -> обложка (необязательна) -> хэш -> запись -> чтение профиля.
// Ошибка загрузки обложки не прерывает регистрацию: поле остаётся пустым.
func (s *Service) Register(ctx context.Context, in RegisterInput) (profile *models.Profile, err error) {
	const op = "service.auth.Register"
	defer func() { s.observe("register", err) }()

	username := normalize(in.Username)
	email := normalize(in.Email)
	fullName := strings.TrimSpace(in.FullName)

	lg := log.From(ctx).With(slog.String("op", op), slog.String("email", redact.Email(email)))

	if username == "" || email == "" || fullName == "" || strings.TrimSpace(in.Password) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrFieldsRequired)
	}

	if !validEmail(email) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	if len(in.Password) > maxPasswordBytes {
		return nil, fmt.Errorf("%s: %w", op, ErrPasswordTooLong)
	}

	_, err = s.storage.UserByLogin(ctx, username, email)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
	case !errors.Is(err, storage.ErrNotFound):
		lg.Error("user_lookup_failed", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	if in.Avatar == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrAvatarRequired)
	}

	in.Avatar.Kind = models.MediaAvatar
	avatarURL, err := s.media.Upload(ctx, *in.Avatar)
	if err != nil {
		lg.Warn("avatar_upload_failed", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, ErrAvatarUpload)
	}

	uploaded := []string{avatarURL}

	var coverURL string
	if in.CoverImage != nil {
		in.CoverImage.Kind = models.MediaCoverImage
		coverURL, err = s.media.Upload(ctx, *in.CoverImage)
		if err != nil {
			lg.Warn("cover_upload_failed", slog.String("err", err.Error()))
			coverURL = ""
		} else {
			uploaded = append(uploaded, coverURL)
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		lg.Error("password_hash_failed", slog.String("err", err.Error()))
		s.discard(ctx, uploaded...)
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	now := s.now()
	user := &models.User{
		ID:            uuid.New(),
		Username:      username,
		Email:         email,
		FullName:      fullName,
		AvatarURL:     avatarURL,
		CoverImageURL: coverURL,
		PasswordHash:  hash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err = s.storage.CreateUser(ctx, user); err != nil {
		s.discard(ctx, uploaded...)

		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
		}

		lg.Error("create_user_failed", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	profile, err = s.storage.ProfileByID(ctx, user.ID)
	if err != nil {
		lg.Error("registered_user_read_failed", slog.String("user_id", user.ID.String()), slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	lg.Info("user_registered", slog.String("user_id", user.ID.String()))

	return profile, nil
}

// Login проверяет пароль и выдаёт новую пару токенов.
// Сохранение refresh-токена затирает предыдущий: старая сессия становится недействительной.
func (s *Service) Login(ctx context.Context, in LoginInput) (session *models.Session, err error) {
	const op = "service.auth.Login"
	defer func() { s.observe("login", err) }()

	username := normalize(in.Username)
	email := normalize(in.Email)

	lg := log.From(ctx).With(slog.String("op", op))

	if username == "" && email == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrLoginRequired)
	}

	user, err := s.storage.UserByLogin(ctx, username, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		lg.Error("user_lookup_failed", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	lg = lg.With(slog.String("user_id", user.ID.String()))

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		lg.Warn("login_failed", slog.String("reason", "password_mismatch"), slog.String("email", redact.Email(user.Email)))
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	pair, err := s.issueTokenPair(user)
	if err != nil {
		lg.Error("token_issue_failed", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	profile, err := s.storage.SetRefreshToken(ctx, user.ID, pair.RefreshToken, pair.RefreshExpiresAt)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		lg.Error("refresh_token_save_failed", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	lg.Info("user_logged_in")

	return &models.Session{User: profile, Tokens: *pair}, nil
}

// Logout очищает слот refresh-токена. Повторный вызов и отсутствующий
// пользователь не считаются ошибкой.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) (err error) {
	const op = "service.auth.Logout"
	defer func() { s.observe("logout", err) }()

	lg := log.From(ctx).With(slog.String("op", op), slog.String("user_id", userID.String()))

	if err = s.storage.ClearRefreshToken(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("logout_unknown_user")
			return nil
		}

		lg.Error("refresh_token_clear_failed", slog.String("err", err.Error()))
		return fmt.Errorf("%s: %w", op, ErrInternal)
	}

	lg.Info("user_logged_out")

	return nil
}

// RefreshAccessToken обменивает действующий refresh-токен на новую пару.
//
// Токен должен пройти проверку подписи/срока и побайтово совпасть с сохранённым.
// Замена выполняется условным апдейтом хранилища: из двух параллельных запросов
// с одним токеном успешен только один, второй получает ErrTokenReused.
func (s *Service) RefreshAccessToken(ctx context.Context, raw string) (pair *models.TokenPair, err error) {
	const op = "service.auth.RefreshAccessToken"
	defer func() { s.observe("refresh", err) }()

	lg := log.From(ctx).With(slog.String("op", op))

	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	userID, err := s.tokens.VerifyRefresh(raw)
	if err != nil {
		lg.Warn("refresh_token_rejected", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	lg = lg.With(slog.String("user_id", userID.String()))

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("refresh_token_unknown_user")
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		lg.Error("user_lookup_failed", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	if user.RefreshToken == "" || subtle.ConstantTimeCompare([]byte(raw), []byte(user.RefreshToken)) != 1 {
		lg.Warn("refresh_token_reused", slog.String("stored", redact.Token(user.RefreshToken)))
		return nil, fmt.Errorf("%s: %w", op, ErrTokenReused)
	}

	pair, err = s.issueTokenPair(user)
	if err != nil {
		lg.Error("token_issue_failed", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	if err = s.storage.RotateRefreshToken(ctx, user.ID, raw, pair.RefreshToken, pair.RefreshExpiresAt); err != nil {
		switch {
		case errors.Is(err, storage.ErrConflict):
			lg.Warn("refresh_token_reused", slog.String("reason", "concurrent_rotation"))
			return nil, fmt.Errorf("%s: %w", op, ErrTokenReused)
		case errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		default:
			lg.Error("refresh_token_rotate_failed", slog.String("err", err.Error()))
			return nil, fmt.Errorf("%s: %w", op, ErrInternal)
		}
	}

	lg.Debug("refresh_token_rotated")

	return pair, nil
}

// ChangePassword меняет пароль после проверки текущего.
// Выданные токены остаются действительными, если не включён
// Options.RevokeSessionsOnPasswordChange.
func (s *Service) ChangePassword(ctx context.Context, in ChangePasswordInput) (err error) {
	const op = "service.auth.ChangePassword"
	defer func() { s.observe("change_password", err) }()

	lg := log.From(ctx).With(slog.String("op", op), slog.String("user_id", in.UserID.String()))

	if in.OldPassword == "" || strings.TrimSpace(in.NewPassword) == "" {
		return fmt.Errorf("%s: %w", op, ErrFieldsRequired)
	}

	if in.ConfirmPassword != "" && in.ConfirmPassword != in.NewPassword {
		return fmt.Errorf("%s: %w", op, ErrPasswordMismatch)
	}

	if len(in.NewPassword) > maxPasswordBytes {
		return fmt.Errorf("%s: %w", op, ErrPasswordTooLong)
	}

	user, err := s.storage.UserByID(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		lg.Error("user_lookup_failed", slog.String("err", err.Error()))
		return fmt.Errorf("%s: %w", op, ErrInternal)
	}

	if !s.hasher.Verify(in.OldPassword, user.PasswordHash) {
		lg.Warn("change_password_failed", slog.String("reason", "old_password_mismatch"))
		return fmt.Errorf("%s: %w", op, ErrInvalidOldPassword)
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		lg.Error("password_hash_failed", slog.String("err", err.Error()))
		return fmt.Errorf("%s: %w", op, ErrInternal)
	}

	if err = s.storage.UpdatePassword(ctx, user.ID, hash); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		lg.Error("password_update_failed", slog.String("err", err.Error()))
		return fmt.Errorf("%s: %w", op, ErrInternal)
	}

	if s.opts.RevokeSessionsOnPasswordChange {
		if cerr := s.storage.ClearRefreshToken(ctx, user.ID); cerr != nil && !errors.Is(cerr, storage.ErrNotFound) {
			lg.Error("refresh_token_clear_failed", slog.String("err", cerr.Error()))
			return fmt.Errorf("%s: %w", op, ErrInternal)
		}
	}

	lg.Info("password_changed")

	return nil
}

// VerifySession превращает access-токен в профиль пользователя.
func (s *Service) VerifySession(ctx context.Context, raw string) (profile *models.Profile, err error) {
	const op = "service.auth.VerifySession"

	lg := log.From(ctx).With(slog.String("op", op))

	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	claims, err := s.tokens.VerifyAccess(raw)
	if err != nil {
		lg.Warn("access_token_rejected", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	profile, err = s.storage.ProfileByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("access_token_unknown_user", slog.String("user_id", claims.UserID.String()))
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		lg.Error("user_lookup_failed", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	return profile, nil
}

// issueTokenPair выпускает access- и refresh-токены для пользователя.
func (s *Service) issueTokenPair(user *models.User) (*models.TokenPair, error) {
	access, accessExp, err := s.tokens.IssueAccess(models.AccessClaims{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		FullName: user.FullName,
	})
	if err != nil {
		return nil, err
	}

	refresh, refreshExp, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// discard удаляет загруженные файлы, которые так и не попали в учётную запись.
func (s *Service) discard(ctx context.Context, urls ...string) {
	for _, u := range urls {
		if u == "" {
			continue
		}

		if err := s.media.Remove(ctx, u); err != nil {
			log.From(ctx).Warn("media_cleanup_failed", slog.String("err", err.Error()))
		}
	}
}
