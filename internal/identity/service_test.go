package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{Handle: "creator1", Email: "c1@example.com", Password: "hunter22pass"})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.NotEmpty(t, user.PasswordHash)

	got, err := svc.Authenticate(ctx, Credentials{Email: "c1@example.com", Password: "hunter22pass"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = svc.Authenticate(ctx, Credentials{Email: "c1@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, Credentials{Email: "missing@example.com", Password: "hunter22pass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Handle: "x", Email: "x@example.com", Password: "short"})
	require.Error(t, err)

	_, err = svc.Register(ctx, RegisterInput{Email: "x@example.com", Password: "longenough"})
	require.Error(t, err)
}

func TestSocialLoginFindOrCreate(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	profile := SocialProfile{Provider: "tiktok", ProviderUID: "uid-1", Handle: "creator2", Email: "c2@example.com"}

	user, created, err := svc.SocialLogin(ctx, profile)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := svc.SocialLogin(ctx, profile)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, user.ID, again.ID)

	_, _, err = svc.SocialLogin(ctx, SocialProfile{Provider: "tiktok"})
	require.Error(t, err)
}
