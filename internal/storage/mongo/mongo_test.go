package mongo

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/go-video-platform/internal/config"
	"github.com/pribylovaa/go-video-platform/internal/models"
	"github.com/pribylovaa/go-video-platform/internal/storage"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Интеграционные тесты: GO_TEST_INTEGRATION=1 go test ./internal/storage/mongo -v

const testTimeout = 10 * time.Second

// TestMain поднимает MongoDB в контейнере один раз на пакет.
func TestMain(m *testing.M) {
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		os.Exit(m.Run())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	mongoC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7.0",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start mongo testcontainer: %v\n", err)
		os.Exit(1)
	}

	host, err := mongoC.Host(ctx)
	if err != nil {
		_ = mongoC.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := mongoC.MappedPort(ctx, "27017/tcp")
	if err != nil {
		_ = mongoC.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get mapped port: %v\n", err)
		os.Exit(1)
	}

	_ = os.Setenv("DATABASE_URL", fmt.Sprintf("mongodb://%s:%s", host, port.Port()))

	code := m.Run()

	_ = mongoC.Terminate(context.Background())
	os.Exit(code)
}

// mustNewStorage подключается к отдельной БД на тест и удаляет её по завершении.
func mustNewStorage(t *testing.T) *Storage {
	t.Helper()

	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration test: set GO_TEST_INTEGRATION=1")
	}

	base := strings.TrimRight(os.Getenv("DATABASE_URL"), "/")
	cfg := config.DBConfig{
		Driver: config.DriverMongo,
		URL:    base + "/users_test_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	s, err := New(ctx, cfg)
	require.NoError(t, err, "DATABASE_URL=%s", cfg.URL)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = s.db.Drop(ctx)
		s.Close()
	})

	return s
}

func newUser(username, email string) *models.User {
	now := time.Now().UTC()
	return &models.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		FullName:     "Test User",
		AvatarURL:    "https://cdn.example.com/avatars/a.png",
		PasswordHash: "$2a$10$hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestDatabaseFromURI(t *testing.T) {
	t.Parallel()

	require.Equal(t, "videotube", databaseFromURI("mongodb://localhost:27017/videotube"))
	require.Equal(t, "x", databaseFromURI("mongodb://u:p@h:1/x?authSource=admin"))
	require.Equal(t, defaultDBName, databaseFromURI("mongodb://localhost:27017"))
	require.Equal(t, defaultDBName, databaseFromURI("%%%"))
}

func TestUserDoc_RoundTrip(t *testing.T) {
	t.Parallel()

	u := newUser("alice", "alice@example.com")
	u.RefreshToken = "rt"
	u.RefreshExpiresAt = time.Now().Add(time.Hour)

	got, err := toUserDoc(u).model()
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, "rt", got.RefreshToken)
	require.WithinDuration(t, u.RefreshExpiresAt, got.RefreshExpiresAt, time.Millisecond)

	_, err = userDoc{ID: "not-a-uuid"}.model()
	require.Error(t, err)
}

func TestCreateUser_AndLookups(t *testing.T) {
	s := mustNewStorage(t)
	ctx := context.Background()

	u := newUser("alice", "alice@example.com")
	require.NoError(t, s.CreateUser(ctx, u))

	byName, err := s.UserByLogin(ctx, "alice", "")
	require.NoError(t, err)
	require.Equal(t, u.ID, byName.ID)
	require.Equal(t, u.PasswordHash, byName.PasswordHash)

	byEmail, err := s.UserByLogin(ctx, "", "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, byEmail.ID)

	_, err = s.UserByLogin(ctx, "bob", "bob@example.com")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.UserByLogin(ctx, "", "")
	require.ErrorIs(t, err, storage.ErrNotFound)

	full, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", full.Username)

	_, err = s.UserByID(ctx, uuid.New())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCreateUser_Duplicates(t *testing.T) {
	s := mustNewStorage(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, newUser("alice", "alice@example.com")))

	err := s.CreateUser(ctx, newUser("alice", "other@example.com"))
	require.ErrorIs(t, err, storage.ErrAlreadyExists)

	err = s.CreateUser(ctx, newUser("other", "alice@example.com"))
	require.ErrorIs(t, err, storage.ErrAlreadyExists)
}

// Проекция профиля не должна вытаскивать секреты даже из сырого документа.
func TestProfileByID_ExcludesSecrets(t *testing.T) {
	s := mustNewStorage(t)
	ctx := context.Background()

	u := newUser("alice", "alice@example.com")
	require.NoError(t, s.CreateUser(ctx, u))
	_, err := s.SetRefreshToken(ctx, u.ID, "rt-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	p, err := s.ProfileByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", p.Username)

	var raw bson.M
	err = s.users.FindOne(ctx, byID(u.ID), options.FindOne().SetProjection(profileProjection)).Decode(&raw)
	require.NoError(t, err)
	require.NotContains(t, raw, "password_hash")
	require.NotContains(t, raw, "refresh_token")

	_, err = s.ProfileByID(ctx, uuid.New())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRefreshTokenLifecycle(t *testing.T) {
	s := mustNewStorage(t)
	ctx := context.Background()

	u := newUser("alice", "alice@example.com")
	require.NoError(t, s.CreateUser(ctx, u))

	p, err := s.SetRefreshToken(ctx, u.ID, "rt-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, u.ID, p.ID)

	// Неверное текущее значение — конфликт, слот не меняется.
	err = s.RotateRefreshToken(ctx, u.ID, "stale", "rt-2", time.Now().Add(time.Hour))
	require.ErrorIs(t, err, storage.ErrConflict)

	require.NoError(t, s.RotateRefreshToken(ctx, u.ID, "rt-1", "rt-2", time.Now().Add(time.Hour)))

	full, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "rt-2", full.RefreshToken)

	err = s.RotateRefreshToken(ctx, uuid.New(), "rt-2", "rt-3", time.Now().Add(time.Hour))
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.ClearRefreshToken(ctx, u.ID))
	require.NoError(t, s.ClearRefreshToken(ctx, u.ID))

	full, err = s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, full.RefreshToken)
	require.True(t, full.RefreshExpiresAt.IsZero())

	require.ErrorIs(t, s.ClearRefreshToken(ctx, uuid.New()), storage.ErrNotFound)

	_, err = s.SetRefreshToken(ctx, uuid.New(), "rt", time.Now())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// Из параллельных ротаций одного и того же токена побеждает ровно одна.
func TestRotateRefreshToken_SingleWinner(t *testing.T) {
	s := mustNewStorage(t)
	ctx := context.Background()

	u := newUser("alice", "alice@example.com")
	require.NoError(t, s.CreateUser(ctx, u))
	_, err := s.SetRefreshToken(ctx, u.ID, "rt-0", time.Now().Add(time.Hour))
	require.NoError(t, err)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.RotateRefreshToken(ctx, u.ID, "rt-0", fmt.Sprintf("rt-%d", i+1), time.Now().Add(time.Hour))
		}(i)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, storage.ErrConflict)
	}

	require.Equal(t, 1, wins)
}

func TestUpdatePasswordAndProfile(t *testing.T) {
	s := mustNewStorage(t)
	ctx := context.Background()

	u := newUser("alice", "alice@example.com")
	require.NoError(t, s.CreateUser(ctx, u))
	require.NoError(t, s.CreateUser(ctx, newUser("bob", "bob@example.com")))

	require.NoError(t, s.UpdatePassword(ctx, u.ID, "$2a$10$new"))
	full, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "$2a$10$new", full.PasswordHash)
	require.ErrorIs(t, s.UpdatePassword(ctx, uuid.New(), "x"), storage.ErrNotFound)

	name := "Alice Liddell"
	avatar := "https://cdn.example.com/avatars/new.png"
	p, err := s.UpdateProfile(ctx, u.ID, models.ProfilePatch{FullName: &name, AvatarURL: &avatar})
	require.NoError(t, err)
	require.Equal(t, name, p.FullName)
	require.Equal(t, avatar, p.AvatarURL)
	require.Equal(t, "alice@example.com", p.Email)

	taken := "bob@example.com"
	_, err = s.UpdateProfile(ctx, u.ID, models.ProfilePatch{Email: &taken})
	require.ErrorIs(t, err, storage.ErrAlreadyExists)

	same, err := s.UpdateProfile(ctx, u.ID, models.ProfilePatch{})
	require.NoError(t, err)
	require.Equal(t, name, same.FullName)

	_, err = s.UpdateProfile(ctx, uuid.New(), models.ProfilePatch{FullName: &name})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClearExpiredRefreshTokens(t *testing.T) {
	s := mustNewStorage(t)
	ctx := context.Background()

	expired := newUser("old", "old@example.com")
	active := newUser("new", "new@example.com")
	require.NoError(t, s.CreateUser(ctx, expired))
	require.NoError(t, s.CreateUser(ctx, active))

	_, err := s.SetRefreshToken(ctx, expired.ID, "rt-old", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = s.SetRefreshToken(ctx, active.ID, "rt-new", time.Now().Add(time.Hour))
	require.NoError(t, err)

	n, err := s.ClearExpiredRefreshTokens(ctx, time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := s.UserByID(ctx, active.ID)
	require.NoError(t, err)
	require.Equal(t, "rt-new", got.RefreshToken)
}
