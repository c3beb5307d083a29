package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-video-platform/internal/models"
	"github.com/pribylovaa/go-video-platform/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// userDoc — представление учётной записи в коллекции users.
type userDoc struct {
	ID               string     `bson:"_id"`
	Username         string     `bson:"username"`
	Email            string     `bson:"email"`
	FullName         string     `bson:"full_name"`
	AvatarURL        string     `bson:"avatar"`
	CoverImageURL    string     `bson:"cover_image"`
	PasswordHash     string     `bson:"password_hash"`
	RefreshToken     string     `bson:"refresh_token,omitempty"`
	RefreshExpiresAt *time.Time `bson:"refresh_expires_at,omitempty"`
	CreatedAt        time.Time  `bson:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at"`
}

// profileDoc — то, что остаётся от userDoc после profileProjection.
type profileDoc struct {
	ID            string    `bson:"_id"`
	Username      string    `bson:"username"`
	Email         string    `bson:"email"`
	FullName      string    `bson:"full_name"`
	AvatarURL     string    `bson:"avatar"`
	CoverImageURL string    `bson:"cover_image"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

// profileProjection исключает секреты на стороне сервера БД.
var profileProjection = bson.D{
	{Key: "password_hash", Value: 0},
	{Key: "refresh_token", Value: 0},
	{Key: "refresh_expires_at", Value: 0},
}

// MongoDB DateTime хранит миллисекунды.
func toMS(t time.Time) time.Time { return t.UTC().Truncate(time.Millisecond) }

func toUserDoc(u *models.User) userDoc {
	doc := userDoc{
		ID:            u.ID.String(),
		Username:      u.Username,
		Email:         u.Email,
		FullName:      u.FullName,
		AvatarURL:     u.AvatarURL,
		CoverImageURL: u.CoverImageURL,
		PasswordHash:  u.PasswordHash,
		RefreshToken:  u.RefreshToken,
		CreatedAt:     toMS(u.CreatedAt),
		UpdatedAt:     toMS(u.UpdatedAt),
	}

	if !u.RefreshExpiresAt.IsZero() {
		exp := toMS(u.RefreshExpiresAt)
		doc.RefreshExpiresAt = &exp
	}

	return doc
}

func (d userDoc) model() (*models.User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("bad _id %q: %w", d.ID, err)
	}

	u := &models.User{
		ID:            id,
		Username:      d.Username,
		Email:         d.Email,
		FullName:      d.FullName,
		AvatarURL:     d.AvatarURL,
		CoverImageURL: d.CoverImageURL,
		PasswordHash:  d.PasswordHash,
		RefreshToken:  d.RefreshToken,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}

	if d.RefreshExpiresAt != nil {
		u.RefreshExpiresAt = d.RefreshExpiresAt.UTC()
	}

	return u, nil
}

func (d profileDoc) model() (*models.Profile, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("bad _id %q: %w", d.ID, err)
	}

	return &models.Profile{
		ID:            id,
		Username:      d.Username,
		Email:         d.Email,
		FullName:      d.FullName,
		AvatarURL:     d.AvatarURL,
		CoverImageURL: d.CoverImageURL,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}, nil
}

func byID(id uuid.UUID) bson.D {
	return bson.D{{Key: "_id", Value: id.String()}}
}

// CreateUser вставляет новую учётную запись.
func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	const op = "storage/mongo/CreateUser"

	if _, err := s.users.InsertOne(ctx, toUserDoc(user)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// UserByLogin ищет запись по username или email ($or из непустых значений).
func (s *Storage) UserByLogin(ctx context.Context, username, email string) (*models.User, error) {
	const op = "storage/mongo/UserByLogin"

	var or bson.A
	if username != "" {
		or = append(or, bson.D{{Key: "username", Value: username}})
	}
	if email != "" {
		or = append(or, bson.D{{Key: "email", Value: email}})
	}

	if len(or) == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	var doc userDoc
	if err := s.users.FindOne(ctx, bson.D{{Key: "$or", Value: or}}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	u, err := doc.model()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// UserByID возвращает полную запись по идентификатору.
func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage/mongo/UserByID"

	var doc userDoc
	if err := s.users.FindOne(ctx, byID(id)).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	u, err := doc.model()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// ProfileByID возвращает проекцию без секретов.
func (s *Storage) ProfileByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	const op = "storage/mongo/ProfileByID"

	opts := options.FindOne().SetProjection(profileProjection)

	var doc profileDoc
	if err := s.users.FindOne(ctx, byID(id), opts).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p, err := doc.model()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return p, nil
}

// SetRefreshToken перезаписывает слот refresh-токена и возвращает профиль после записи.
func (s *Storage) SetRefreshToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) (*models.Profile, error) {
	const op = "storage/mongo/SetRefreshToken"

	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "refresh_token", Value: token},
		{Key: "refresh_expires_at", Value: toMS(expiresAt)},
		{Key: "updated_at", Value: toMS(time.Now())},
	}}}

	p, err := s.updateProfile(ctx, byID(id), update)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return p, nil
}

// RotateRefreshToken заменяет refresh-токен, только если в слоте всё ещё current.
// Фильтр по текущему значению делает проверку и запись одной атомарной операцией.
func (s *Storage) RotateRefreshToken(ctx context.Context, id uuid.UUID, current, next string, expiresAt time.Time) error {
	const op = "storage/mongo/RotateRefreshToken"

	filter := bson.D{
		{Key: "_id", Value: id.String()},
		{Key: "refresh_token", Value: current},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "refresh_token", Value: next},
		{Key: "refresh_expires_at", Value: toMS(expiresAt)},
		{Key: "updated_at", Value: toMS(time.Now())},
	}}}

	res, err := s.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, s.missOrConflict(ctx, id))
	}

	return nil
}

// ClearRefreshToken удаляет слот refresh-токена ($unset).
func (s *Storage) ClearRefreshToken(ctx context.Context, id uuid.UUID) error {
	const op = "storage/mongo/ClearRefreshToken"

	update := bson.D{
		{Key: "$unset", Value: bson.D{
			{Key: "refresh_token", Value: ""},
			{Key: "refresh_expires_at", Value: ""},
		}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: toMS(time.Now())}}},
	}

	res, err := s.users.UpdateOne(ctx, byID(id), update)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// UpdatePassword заменяет хэш пароля.
func (s *Storage) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	const op = "storage/mongo/UpdatePassword"

	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "password_hash", Value: hash},
		{Key: "updated_at", Value: toMS(time.Now())},
	}}}

	res, err := s.users.UpdateOne(ctx, byID(id), update)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// UpdateProfile применяет частичный патч. Пустой патч — просто чтение профиля.
func (s *Storage) UpdateProfile(ctx context.Context, id uuid.UUID, patch models.ProfilePatch) (*models.Profile, error) {
	const op = "storage/mongo/UpdateProfile"

	if patch.Empty() {
		return s.ProfileByID(ctx, id)
	}

	set := bson.D{{Key: "updated_at", Value: toMS(time.Now())}}
	if patch.FullName != nil {
		set = append(set, bson.E{Key: "full_name", Value: *patch.FullName})
	}
	if patch.Email != nil {
		set = append(set, bson.E{Key: "email", Value: *patch.Email})
	}
	if patch.AvatarURL != nil {
		set = append(set, bson.E{Key: "avatar", Value: *patch.AvatarURL})
	}
	if patch.CoverImageURL != nil {
		set = append(set, bson.E{Key: "cover_image", Value: *patch.CoverImageURL})
	}

	p, err := s.updateProfile(ctx, byID(id), bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return p, nil
}

// ClearExpiredRefreshTokens очищает слоты с refresh_expires_at <= now.
func (s *Storage) ClearExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage/mongo/ClearExpiredRefreshTokens"

	filter := bson.D{{Key: "refresh_expires_at", Value: bson.D{{Key: "$lte", Value: toMS(now)}}}}
	update := bson.D{{Key: "$unset", Value: bson.D{
		{Key: "refresh_token", Value: ""},
		{Key: "refresh_expires_at", Value: ""},
	}}}

	res, err := s.users.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return res.ModifiedCount, nil
}

// updateProfile выполняет FindOneAndUpdate с проекцией профиля и возвратом документа после записи.
func (s *Storage) updateProfile(ctx context.Context, filter, update bson.D) (*models.Profile, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(profileProjection)

	var doc profileDoc
	if err := s.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		switch {
		case errors.Is(err, mongodriver.ErrNoDocuments):
			return nil, storage.ErrNotFound
		case mongodriver.IsDuplicateKeyError(err):
			return nil, storage.ErrAlreadyExists
		default:
			return nil, err
		}
	}

	return doc.model()
}

// missOrConflict различает "записи нет" и "значение уже другое" после неудачного условного апдейта.
func (s *Storage) missOrConflict(ctx context.Context, id uuid.UUID) error {
	n, err := s.users.CountDocuments(ctx, byID(id), options.Count().SetLimit(1))
	if err != nil {
		return err
	}

	if n == 0 {
		return storage.ErrNotFound
	}

	return storage.ErrConflict
}
