package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pribylovaa/go-video-platform/internal/config"
	"github.com/pribylovaa/go-video-platform/internal/models"
	"github.com/stretchr/testify/require"
)

func testCfg() config.AuthConfig {
	return config.AuthConfig{
		AccessTokenSecret:  "access-secret",
		RefreshTokenSecret: "refresh-secret",
		AccessTokenTTL:     time.Minute,
		RefreshTokenTTL:    time.Hour,
		Issuer:             "users-service",
		Audience:           []string{"web"},
	}
}

func TestAccess_RoundTrip(t *testing.T) {
	t.Parallel()

	m := NewManager(testCfg())
	in := models.AccessClaims{UserID: uuid.New(), Username: "alice", Email: "a@x.io", FullName: "Alice A"}

	tok, exp, err := m.IssueAccess(in)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Minute), exp, 2*time.Second)

	got, err := m.VerifyAccess(tok)
	require.NoError(t, err)
	require.Equal(t, in, *got)
}

func TestRefresh_RoundTripAndUniqueness(t *testing.T) {
	t.Parallel()

	m := NewManager(testCfg())
	uid := uuid.New()

	t1, exp, err := m.IssueRefresh(uid)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), exp, 2*time.Second)

	t2, _, err := m.IssueRefresh(uid)
	require.NoError(t, err)
	require.NotEqual(t, t1, t2, "jti makes each refresh token unique")

	got, err := m.VerifyRefresh(t1)
	require.NoError(t, err)
	require.Equal(t, uid, got)
}

// Разные секреты: refresh не принимается как access и наоборот.
func TestSecretsAreNotInterchangeable(t *testing.T) {
	t.Parallel()

	m := NewManager(testCfg())
	uid := uuid.New()

	access, _, err := m.IssueAccess(models.AccessClaims{UserID: uid})
	require.NoError(t, err)
	refresh, _, err := m.IssueRefresh(uid)
	require.NoError(t, err)

	_, err = m.VerifyRefresh(access)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.VerifyAccess(refresh)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	m := NewManager(testCfg())
	past := time.Now().Add(-2 * time.Hour)
	m.now = func() time.Time { return past }

	access, _, err := m.IssueAccess(models.AccessClaims{UserID: uuid.New()})
	require.NoError(t, err)
	refresh, _, err := m.IssueRefresh(uuid.New())
	require.NoError(t, err)

	m.now = time.Now

	_, err = m.VerifyAccess(access)
	require.ErrorIs(t, err, ErrTokenExpired)

	_, err = m.VerifyRefresh(refresh)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerify_Tampered(t *testing.T) {
	t.Parallel()

	m := NewManager(testCfg())
	tok, _, err := m.IssueRefresh(uuid.New())
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = m.VerifyRefresh(tampered)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.VerifyRefresh("not.a.jwt")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.VerifyRefresh("")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_WrongIssuerOrAudience(t *testing.T) {
	t.Parallel()

	other := testCfg()
	other.Issuer = "someone-else"
	foreign, _, err := NewManager(other).IssueAccess(models.AccessClaims{UserID: uuid.New()})
	require.NoError(t, err)

	_, err = NewManager(testCfg()).VerifyAccess(foreign)
	require.ErrorIs(t, err, ErrInvalidToken)

	other = testCfg()
	other.Audience = []string{"mobile"}
	foreign, _, err = NewManager(other).IssueAccess(models.AccessClaims{UserID: uuid.New()})
	require.NoError(t, err)

	_, err = NewManager(testCfg()).VerifyAccess(foreign)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	cfg := testCfg()
	claims := accessClaims{
		UserID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings(cfg.Audience),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(cfg.AccessTokenSecret))
	require.NoError(t, err)

	_, err = NewManager(cfg).VerifyAccess(hs512)
	require.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewManager(cfg).VerifyAccess(none)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMissingSecret(t *testing.T) {
	t.Parallel()

	cfg := testCfg()
	cfg.AccessTokenSecret = ""
	cfg.RefreshTokenSecret = ""
	m := NewManager(cfg)

	_, _, err := m.IssueAccess(models.AccessClaims{UserID: uuid.New()})
	require.ErrorIs(t, err, ErrMissingSecret)

	_, _, err = m.IssueRefresh(uuid.New())
	require.ErrorIs(t, err, ErrMissingSecret)

	_, err = m.VerifyAccess("x.y.z")
	require.ErrorIs(t, err, ErrMissingSecret)

	_, err = m.VerifyRefresh("x.y.z")
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestVerify_BadUID(t *testing.T) {
	t.Parallel()

	cfg := testCfg()
	claims := refreshClaims{
		UserID: "not-a-uuid",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings(cfg.Audience),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.RefreshTokenSecret))
	require.NoError(t, err)

	_, err = NewManager(cfg).VerifyRefresh(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}
