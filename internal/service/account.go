package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-video-platform/internal/models"
	"github.com/pribylovaa/go-video-platform/internal/pkg/log"
	"github.com/pribylovaa/go-video-platform/internal/storage"
)

// UpdateAccountInput — частичное обновление данных учётной записи.
type UpdateAccountInput struct {
	UserID   uuid.UUID
	FullName *string
	Email    *string
}

// CurrentUser возвращает профиль пользователя по id.
func (s *Service) CurrentUser(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	const op = "service.account.CurrentUser"

	profile, err := s.storage.ProfileByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		log.From(ctx).Error("user_lookup_failed",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	return profile, nil
}

// UpdateAccountDetails меняет полное имя и/или e-mail.
// Пустые после TrimSpace значения считаются ошибкой, а не «не менять».
func (s *Service) UpdateAccountDetails(ctx context.Context, in UpdateAccountInput) (profile *models.Profile, err error) {
	const op = "service.account.UpdateAccountDetails"
	defer func() { s.observe("update_account", err) }()

	lg := log.From(ctx).With(slog.String("op", op), slog.String("user_id", in.UserID.String()))

	if in.FullName == nil && in.Email == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNothingToUpdate)
	}

	var patch models.ProfilePatch

	if in.FullName != nil {
		name := strings.TrimSpace(*in.FullName)
		if name == "" {
			return nil, fmt.Errorf("%s: %w", op, ErrFieldsRequired)
		}
		patch.FullName = &name
	}

	if in.Email != nil {
		email := normalize(*in.Email)
		if email == "" {
			return nil, fmt.Errorf("%s: %w", op, ErrFieldsRequired)
		}
		if !validEmail(email) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
		}
		patch.Email = &email
	}

	profile, err = s.storage.UpdateProfile(ctx, in.UserID, patch)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		case errors.Is(err, storage.ErrAlreadyExists):
			return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
		default:
			lg.Error("profile_update_failed", slog.String("err", err.Error()))
			return nil, fmt.Errorf("%s: %w", op, ErrInternal)
		}
	}

	lg.Info("account_updated")

	return profile, nil
}

// UpdateAvatar загружает новый аватар и подменяет ссылку в профиле.
func (s *Service) UpdateAvatar(ctx context.Context, userID uuid.UUID, file *models.MediaUpload) (profile *models.Profile, err error) {
	defer func() { s.observe("update_avatar", err) }()

	return s.replaceImage(ctx, "service.account.UpdateAvatar", userID, file, models.MediaAvatar)
}

// UpdateCoverImage загружает новую обложку и подменяет ссылку в профиле.
func (s *Service) UpdateCoverImage(ctx context.Context, userID uuid.UUID, file *models.MediaUpload) (profile *models.Profile, err error) {
	defer func() { s.observe("update_cover_image", err) }()

	return s.replaceImage(ctx, "service.account.UpdateCoverImage", userID, file, models.MediaCoverImage)
}

// replaceImage: загрузка -> патч профиля -> удаление старого файла.
// Старый файл удаляется по возможности; ошибка удаления только логируется.
func (s *Service) replaceImage(ctx context.Context, op string, userID uuid.UUID, file *models.MediaUpload, kind models.MediaKind) (*models.Profile, error) {
	lg := log.From(ctx).With(slog.String("op", op), slog.String("user_id", userID.String()))

	errRequired, errUpload := ErrAvatarRequired, ErrAvatarUpload
	if kind == models.MediaCoverImage {
		errRequired, errUpload = ErrCoverImageRequired, ErrCoverImageUpload
	}

	if file == nil {
		return nil, fmt.Errorf("%s: %w", op, errRequired)
	}

	current, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		lg.Error("user_lookup_failed", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	file.Kind = kind
	url, err := s.media.Upload(ctx, *file)
	if err != nil {
		lg.Warn("media_upload_failed", slog.String("kind", string(kind)), slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, errUpload)
	}

	var patch models.ProfilePatch
	old := current.AvatarURL
	if kind == models.MediaCoverImage {
		patch.CoverImageURL = &url
		old = current.CoverImageURL
	} else {
		patch.AvatarURL = &url
	}

	profile, err := s.storage.UpdateProfile(ctx, userID, patch)
	if err != nil {
		s.discard(ctx, url)

		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		lg.Error("profile_update_failed", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	if old != "" && old != url {
		s.discard(ctx, old)
	}

	lg.Info("media_replaced", slog.String("kind", string(kind)))

	return profile, nil
}

// CleanupExpiredSessions очищает refresh-токены, истёкшие к now.
// Вызывается фоновым janitor'ом.
func (s *Service) CleanupExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	const op = "service.account.CleanupExpiredSessions"

	n, err := s.storage.ClearExpiredRefreshTokens(ctx, now)
	if err != nil {
		log.From(ctx).Error("expired_sessions_cleanup_failed", slog.String("op", op), slog.String("err", err.Error()))
		return 0, fmt.Errorf("%s: %w", op, ErrInternal)
	}

	if n > 0 {
		log.From(ctx).Info("expired_sessions_cleared", slog.String("op", op), slog.Int64("count", n))
	}

	return n, nil
}
