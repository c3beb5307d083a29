package service

// Тесты сервисного слоя users-service (internal/service/auth.go).
//
//  Проверяем:
//  - валидацию входов и нормализацию username/e-mail;
//  - маппинг ошибок storage -> service (NotFound / AlreadyExists / Conflict / Internal);
//  - хэширование пароля (реальный bcrypt с минимальной стоимостью);
//  - выпуск, сохранение и ротацию refresh-токена (реальный token.Manager);
//  - обнаружение повторного использования refresh-токена.
//
// Подготовка окружения:
//   go test ./internal/service -v -race -count=1
//
// Примечание: моки сгенерированы в пакете /mocks (MockStorage, MockMedia).

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/pribylovaa/go-video-platform/internal/config"
	"github.com/pribylovaa/go-video-platform/internal/models"
	"github.com/pribylovaa/go-video-platform/internal/security/password"
	"github.com/pribylovaa/go-video-platform/internal/security/token"
	"github.com/pribylovaa/go-video-platform/internal/storage"
	"github.com/pribylovaa/go-video-platform/mocks"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var errDB = errors.New("db down")

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) Observe(op, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, op+":"+outcome)
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		AccessTokenSecret:  "access-secret",
		RefreshTokenSecret: "refresh-secret",
		AccessTokenTTL:     time.Minute,
		RefreshTokenTTL:    time.Hour,
		Issuer:             "users-service",
		Audience:           []string{"web"},
	}
}

type fixture struct {
	svc    *Service
	st     *mocks.MockStorage
	media  *mocks.MockMedia
	hasher *password.Bcrypt
	tokens *token.Manager
	obs    *recordingObserver
}

func newServiceWithMocks(t *testing.T, opts Options) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	hasher, err := password.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)

	f := &fixture{
		st:     mocks.NewMockStorage(ctrl),
		media:  mocks.NewMockMedia(ctrl),
		hasher: hasher,
		tokens: token.NewManager(testAuthConfig()),
		obs:    &recordingObserver{},
	}
	opts.Observer = f.obs
	f.svc = New(f.st, f.media, f.hasher, f.tokens, opts)

	return f
}

func avatarUpload() *models.MediaUpload {
	return &models.MediaUpload{
		Filename:    "me.png",
		ContentType: "image/png",
		Size:        3,
		Body:        bytes.NewReader([]byte{1, 2, 3}),
	}
}

func registerInput() RegisterInput {
	return RegisterInput{
		Username: "  Alice ",
		Email:    "Alice@Example.com",
		Password: "s3cret",
		FullName: " Alice A ",
		Avatar:   avatarUpload(),
	}
}

// storedUser собирает запись, как её вернёт хранилище после регистрации.
func (f *fixture) storedUser(t *testing.T, plain string) *models.User {
	t.Helper()
	hash, err := f.hasher.Hash(plain)
	require.NoError(t, err)

	return &models.User{
		ID:           uuid.New(),
		Username:     "alice",
		Email:        "alice@example.com",
		FullName:     "Alice A",
		AvatarURL:    "http://cdn/avatars/a.png",
		PasswordHash: hash,
	}
}

func profileOf(u *models.User) *models.Profile {
	return &models.Profile{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FullName:  u.FullName,
		AvatarURL: u.AvatarURL,
	}
}

// Валидация: пустые поля после TrimSpace и неверный e-mail отсекаются до хранилища.
func TestService_Register_Validation(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	ctx := context.Background()

	in := registerInput()
	in.FullName = "   "
	_, err := f.svc.Register(ctx, in)
	require.ErrorIs(t, err, ErrFieldsRequired)

	in = registerInput()
	in.Password = ""
	_, err = f.svc.Register(ctx, in)
	require.ErrorIs(t, err, ErrFieldsRequired)

	for _, email := range []string{"not-an-email", "Bob <bob@example.com>", "<bob@example.com>", "bob@example.com (Bob)"} {
		in = registerInput()
		in.Email = email
		_, err = f.svc.Register(ctx, in)
		require.ErrorIs(t, err, ErrInvalidEmail, email)
	}
}

// Пароль длиннее 72 байт bcrypt не примет: это ошибка ввода, а не сбой.
func TestService_Register_PasswordTooLong(t *testing.T) {
	f := newServiceWithMocks(t, Options{})

	in := registerInput()
	in.Password = strings.Repeat("a", 73)
	_, err := f.svc.Register(context.Background(), in)
	require.ErrorIs(t, err, ErrPasswordTooLong)
	require.NotErrorIs(t, err, ErrInternal)

	// ровно 72 байта проходят валидацию и доходят до хранилища
	in = registerInput()
	in.Password = strings.Repeat("я", 36)
	f.st.EXPECT().UserByLogin(gomock.Any(), "alice", "alice@example.com").Return(nil, errDB)
	_, err = f.svc.Register(context.Background(), in)
	require.ErrorIs(t, err, ErrInternal)
}

// Дубликат: поиск идёт по нормализованным значениям, найденная запись -> ErrUserExists.
func TestService_Register_Duplicate(t *testing.T) {
	f := newServiceWithMocks(t, Options{})

	f.st.EXPECT().UserByLogin(gomock.Any(), "alice", "alice@example.com").Return(&models.User{}, nil)

	_, err := f.svc.Register(context.Background(), registerInput())
	require.ErrorIs(t, err, ErrUserExists)
	require.Equal(t, []string{"register:rejected"}, f.obs.calls)
}

func TestService_Register_LookupFailure(t *testing.T) {
	f := newServiceWithMocks(t, Options{})

	f.st.EXPECT().UserByLogin(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errDB)

	_, err := f.svc.Register(context.Background(), registerInput())
	require.ErrorIs(t, err, ErrInternal)
	require.NotContains(t, err.Error(), "db down")
}

func TestService_Register_AvatarRequiredAndUploadFailure(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	ctx := context.Background()

	f.st.EXPECT().UserByLogin(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound).Times(2)

	in := registerInput()
	in.Avatar = nil
	_, err := f.svc.Register(ctx, in)
	require.ErrorIs(t, err, ErrAvatarRequired)

	f.media.EXPECT().Upload(gomock.Any(), gomock.Any()).Return("", storage.ErrInvalidMedia)
	_, err = f.svc.Register(ctx, registerInput())
	require.ErrorIs(t, err, ErrAvatarUpload)
}

// Happy-path: хэш в хранилище не равен паролю и проверяется; обложка не обязательна,
// ошибка её загрузки оставляет поле пустым.
func TestService_Register_OK(t *testing.T) {
	f := newServiceWithMocks(t, Options{})

	in := registerInput()
	in.CoverImage = &models.MediaUpload{ContentType: "image/png", Size: 1, Body: bytes.NewReader([]byte{1})}

	var created *models.User
	gomock.InOrder(
		f.st.EXPECT().UserByLogin(gomock.Any(), "alice", "alice@example.com").Return(nil, storage.ErrNotFound),
		f.media.EXPECT().Upload(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, m models.MediaUpload) (string, error) {
			require.Equal(t, models.MediaAvatar, m.Kind)
			return "http://cdn/avatars/a.png", nil
		}),
		f.media.EXPECT().Upload(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, m models.MediaUpload) (string, error) {
			require.Equal(t, models.MediaCoverImage, m.Kind)
			return "", errors.New("s3 unavailable")
		}),
		f.st.EXPECT().CreateUser(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, u *models.User) error {
			created = u
			return nil
		}),
		f.st.EXPECT().ProfileByID(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, id uuid.UUID) (*models.Profile, error) {
			return profileOf(created), nil
		}),
	)

	got, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err)

	require.NotNil(t, created)
	require.NotEqual(t, uuid.Nil, created.ID)
	require.Equal(t, "alice", created.Username)
	require.Equal(t, "alice@example.com", created.Email)
	require.Equal(t, "Alice A", created.FullName)
	require.Equal(t, "http://cdn/avatars/a.png", created.AvatarURL)
	require.Empty(t, created.CoverImageURL)
	require.Empty(t, created.RefreshToken)
	require.NotEqual(t, "s3cret", created.PasswordHash)
	require.True(t, f.hasher.Verify("s3cret", created.PasswordHash))
	require.False(t, created.CreatedAt.IsZero())

	require.Equal(t, created.ID, got.ID)
	require.Equal(t, []string{"register:ok"}, f.obs.calls)
}

// Гонка на уникальном индексе: ErrAlreadyExists -> ErrUserExists, загруженный файл удаляется.
func TestService_Register_CreateConflictCleansUp(t *testing.T) {
	f := newServiceWithMocks(t, Options{})

	f.st.EXPECT().UserByLogin(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	f.media.EXPECT().Upload(gomock.Any(), gomock.Any()).Return("http://cdn/avatars/a.png", nil)
	f.st.EXPECT().CreateUser(gomock.Any(), gomock.Any()).Return(storage.ErrAlreadyExists)
	f.media.EXPECT().Remove(gomock.Any(), "http://cdn/avatars/a.png").Return(nil)

	_, err := f.svc.Register(context.Background(), registerInput())
	require.ErrorIs(t, err, ErrUserExists)
}

func TestService_Login_Validation(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	ctx := context.Background()

	_, err := f.svc.Login(ctx, LoginInput{Username: "  ", Password: "x"})
	require.ErrorIs(t, err, ErrLoginRequired)

	f.st.EXPECT().UserByLogin(gomock.Any(), "bob", "").Return(nil, storage.ErrNotFound)
	_, err = f.svc.Login(ctx, LoginInput{Username: "Bob", Password: "x"})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_Login_WrongPassword(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	u := f.storedUser(t, "s3cret")

	f.st.EXPECT().UserByLogin(gomock.Any(), "", "alice@example.com").Return(u, nil)

	_, err := f.svc.Login(context.Background(), LoginInput{Email: "alice@example.com", Password: "nope"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Equal(t, []string{"login:rejected"}, f.obs.calls)
}

// Happy-path: сохранённый refresh-токен равен выданному, access-токен несёт идентичность.
func TestService_Login_OK(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	u := f.storedUser(t, "s3cret")

	var saved string
	f.st.EXPECT().UserByLogin(gomock.Any(), "alice", "").Return(u, nil)
	f.st.EXPECT().SetRefreshToken(gomock.Any(), u.ID, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, tok string, exp time.Time) (*models.Profile, error) {
			saved = tok
			require.True(t, exp.After(time.Now()))
			return profileOf(u), nil
		})

	sess, err := f.svc.Login(context.Background(), LoginInput{Username: "ALICE", Password: "s3cret"})
	require.NoError(t, err)
	require.Equal(t, saved, sess.Tokens.RefreshToken)
	require.Equal(t, u.ID, sess.User.ID)

	claims, err := f.tokens.VerifyAccess(sess.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.UserID)
	require.Equal(t, "alice", claims.Username)

	uid, err := f.tokens.VerifyRefresh(sess.Tokens.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, uid)
}

func TestService_Login_SaveFailure(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	u := f.storedUser(t, "s3cret")

	f.st.EXPECT().UserByLogin(gomock.Any(), gomock.Any(), gomock.Any()).Return(u, nil)
	f.st.EXPECT().SetRefreshToken(gomock.Any(), u.ID, gomock.Any(), gomock.Any()).Return(nil, errDB)

	_, err := f.svc.Login(context.Background(), LoginInput{Username: "alice", Password: "s3cret"})
	require.ErrorIs(t, err, ErrInternal)
	require.Equal(t, []string{"login:error"}, f.obs.calls)
}

// Logout идемпотентен: отсутствующий пользователь не ошибка, сбой хранилища — ErrInternal.
func TestService_Logout(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	ctx := context.Background()
	uid := uuid.New()

	f.st.EXPECT().ClearRefreshToken(gomock.Any(), uid).Return(nil)
	require.NoError(t, f.svc.Logout(ctx, uid))

	f.st.EXPECT().ClearRefreshToken(gomock.Any(), uid).Return(storage.ErrNotFound)
	require.NoError(t, f.svc.Logout(ctx, uid))

	f.st.EXPECT().ClearRefreshToken(gomock.Any(), uid).Return(errDB)
	require.ErrorIs(t, f.svc.Logout(ctx, uid), ErrInternal)
}

func TestService_Refresh_InvalidInput(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	ctx := context.Background()

	_, err := f.svc.RefreshAccessToken(ctx, "")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.RefreshAccessToken(ctx, "garbage")
	require.ErrorIs(t, err, ErrInvalidToken)

	// access-токен подписан другим секретом
	access, _, err := f.tokens.IssueAccess(models.AccessClaims{UserID: uuid.New()})
	require.NoError(t, err)
	_, err = f.svc.RefreshAccessToken(ctx, access)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_Refresh_UnknownUser(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	uid := uuid.New()
	raw, _, err := f.tokens.IssueRefresh(uid)
	require.NoError(t, err)

	f.st.EXPECT().UserByID(gomock.Any(), uid).Return(nil, storage.ErrNotFound)

	_, err = f.svc.RefreshAccessToken(context.Background(), raw)
	require.ErrorIs(t, err, ErrUserNotFound)
}

// Токен валиден криптографически, но в слоте уже другой -> ErrTokenReused.
func TestService_Refresh_Reused(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	u := f.storedUser(t, "s3cret")

	old, _, err := f.tokens.IssueRefresh(u.ID)
	require.NoError(t, err)
	current, _, err := f.tokens.IssueRefresh(u.ID)
	require.NoError(t, err)
	u.RefreshToken = current

	f.st.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)

	_, err = f.svc.RefreshAccessToken(context.Background(), old)
	require.ErrorIs(t, err, ErrTokenReused)
	require.Equal(t, []string{"refresh:reused"}, f.obs.calls)

	// после logout слот пуст: любой токен считается использованным
	u.RefreshToken = ""
	f.st.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)

	_, err = f.svc.RefreshAccessToken(context.Background(), current)
	require.ErrorIs(t, err, ErrTokenReused)
}

// Happy-path: ротация current -> next, новый токен отличается от старого.
func TestService_Refresh_OK(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	u := f.storedUser(t, "s3cret")

	raw, _, err := f.tokens.IssueRefresh(u.ID)
	require.NoError(t, err)
	u.RefreshToken = raw

	var next string
	f.st.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)
	f.st.EXPECT().RotateRefreshToken(gomock.Any(), u.ID, raw, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, _, n string, _ time.Time) error {
			next = n
			return nil
		})

	pair, err := f.svc.RefreshAccessToken(context.Background(), raw)
	require.NoError(t, err)
	require.NotEqual(t, raw, pair.RefreshToken)
	require.Equal(t, next, pair.RefreshToken)

	claims, err := f.tokens.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.UserID)
}

// Параллельная ротация тем же токеном: проигравший CAS получает ErrTokenReused.
func TestService_Refresh_LostRace(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	u := f.storedUser(t, "s3cret")

	raw, _, err := f.tokens.IssueRefresh(u.ID)
	require.NoError(t, err)
	u.RefreshToken = raw

	f.st.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)
	f.st.EXPECT().RotateRefreshToken(gomock.Any(), u.ID, raw, gomock.Any(), gomock.Any()).Return(storage.ErrConflict)

	_, err = f.svc.RefreshAccessToken(context.Background(), raw)
	require.ErrorIs(t, err, ErrTokenReused)
}

func TestService_Refresh_StorageFailure(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	uid := uuid.New()
	raw, _, err := f.tokens.IssueRefresh(uid)
	require.NoError(t, err)

	f.st.EXPECT().UserByID(gomock.Any(), uid).Return(nil, errDB)

	_, err = f.svc.RefreshAccessToken(context.Background(), raw)
	require.ErrorIs(t, err, ErrInternal)
}

func TestService_ChangePassword_Validation(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	ctx := context.Background()
	uid := uuid.New()

	err := f.svc.ChangePassword(ctx, ChangePasswordInput{UserID: uid, NewPassword: "x"})
	require.ErrorIs(t, err, ErrFieldsRequired)

	err = f.svc.ChangePassword(ctx, ChangePasswordInput{UserID: uid, OldPassword: "a", NewPassword: "b", ConfirmPassword: "c"})
	require.ErrorIs(t, err, ErrPasswordMismatch)

	long := strings.Repeat("b", 73)
	err = f.svc.ChangePassword(ctx, ChangePasswordInput{UserID: uid, OldPassword: "a", NewPassword: long, ConfirmPassword: long})
	require.ErrorIs(t, err, ErrPasswordTooLong)

	f.st.EXPECT().UserByID(gomock.Any(), uid).Return(nil, storage.ErrNotFound)
	err = f.svc.ChangePassword(ctx, ChangePasswordInput{UserID: uid, OldPassword: "a", NewPassword: "b"})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_ChangePassword_WrongOld(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	u := f.storedUser(t, "s3cret")

	f.st.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)

	err := f.svc.ChangePassword(context.Background(), ChangePasswordInput{UserID: u.ID, OldPassword: "nope", NewPassword: "n3w"})
	require.ErrorIs(t, err, ErrInvalidOldPassword)
}

// Happy-path: новый хэш проверяется новым паролем; refresh-токен не трогается.
func TestService_ChangePassword_OK(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	u := f.storedUser(t, "s3cret")

	f.st.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil)
	f.st.EXPECT().UpdatePassword(gomock.Any(), u.ID, gomock.Any()).DoAndReturn(func(_ context.Context, _ uuid.UUID, hash string) error {
		require.True(t, f.hasher.Verify("n3w", hash))
		require.False(t, f.hasher.Verify("s3cret", hash))
		return nil
	})

	err := f.svc.ChangePassword(context.Background(), ChangePasswordInput{
		UserID: u.ID, OldPassword: "s3cret", NewPassword: "n3w", ConfirmPassword: "n3w",
	})
	require.NoError(t, err)
}

func TestService_ChangePassword_RevokesSessionsWhenEnabled(t *testing.T) {
	f := newServiceWithMocks(t, Options{RevokeSessionsOnPasswordChange: true})
	u := f.storedUser(t, "s3cret")

	gomock.InOrder(
		f.st.EXPECT().UserByID(gomock.Any(), u.ID).Return(u, nil),
		f.st.EXPECT().UpdatePassword(gomock.Any(), u.ID, gomock.Any()).Return(nil),
		f.st.EXPECT().ClearRefreshToken(gomock.Any(), u.ID).Return(nil),
	)

	err := f.svc.ChangePassword(context.Background(), ChangePasswordInput{UserID: u.ID, OldPassword: "s3cret", NewPassword: "n3w"})
	require.NoError(t, err)
}

func TestService_VerifySession(t *testing.T) {
	f := newServiceWithMocks(t, Options{})
	ctx := context.Background()
	u := f.storedUser(t, "s3cret")

	_, err := f.svc.VerifySession(ctx, "")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.VerifySession(ctx, "garbage")
	require.ErrorIs(t, err, ErrInvalidToken)

	refresh, _, err := f.tokens.IssueRefresh(u.ID)
	require.NoError(t, err)
	_, err = f.svc.VerifySession(ctx, refresh)
	require.ErrorIs(t, err, ErrInvalidToken)

	access, _, err := f.tokens.IssueAccess(models.AccessClaims{UserID: u.ID, Username: u.Username})
	require.NoError(t, err)

	f.st.EXPECT().ProfileByID(gomock.Any(), u.ID).Return(profileOf(u), nil)
	got, err := f.svc.VerifySession(ctx, access)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	// пользователь удалён после выдачи токена
	f.st.EXPECT().ProfileByID(gomock.Any(), u.ID).Return(nil, storage.ErrNotFound)
	_, err = f.svc.VerifySession(ctx, access)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ok", Outcome(nil))
	require.Equal(t, "reused", Outcome(ErrTokenReused))
	require.Equal(t, "error", Outcome(ErrInternal))
	require.Equal(t, "rejected", Outcome(ErrInvalidCredentials))
}
