package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidtip/vidtip/internal/config"
	"github.com/vidtip/vidtip/internal/identity"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:       "access-secret",
		RefreshSecret:   "refresh-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	}
}

func registeredUser(t *testing.T, repo identity.Repository) identity.User {
	t.Helper()
	svc := identity.NewService(repo)
	user, err := svc.Register(context.Background(), identity.RegisterInput{
		Handle: "creator", Email: "creator@example.com", Password: "longenough",
	})
	require.NoError(t, err)
	return user
}

func TestLoginIssuesVerifiableTokens(t *testing.T) {
	repo := identity.NewMemoryRepository()
	user := registeredUser(t, repo)
	svc := NewService(testConfig(), repo)

	pair, err := svc.Login(user)
	require.NoError(t, err)
	assert.Equal(t, int64(60), pair.ExpiresIn)

	claims, err := Parse(pair.AccessToken, []byte("access-secret"))
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Equal(t, user.TokenVersion, claims.Ver)

	// Wrong secret fails verification.
	_, err = Parse(pair.AccessToken, []byte("other-secret"))
	require.Error(t, err)

	// Access token is not a refresh token.
	_, _, err = svc.Refresh(context.Background(), pair.AccessToken)
	require.Error(t, err)
}

func TestRefreshRotatesAccessToken(t *testing.T) {
	repo := identity.NewMemoryRepository()
	user := registeredUser(t, repo)
	svc := NewService(testConfig(), repo)

	pair, err := svc.Login(user)
	require.NoError(t, err)

	access, expiresIn, err := svc.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, int64(60), expiresIn)

	claims, err := Parse(access, []byte("access-secret"))
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
}

func TestLogoutInvalidatesRefreshTokens(t *testing.T) {
	repo := identity.NewMemoryRepository()
	user := registeredUser(t, repo)
	svc := NewService(testConfig(), repo)

	pair, err := svc.Login(user)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), user.ID))

	_, _, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.Error(t, err)
}
