package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuthenticateAcceptsValidToken(t *testing.T) {
	mgr := NewJWTManager("test-secret", time.Hour)
	token, err := mgr.Generate("viewer-1", []string{"moqtail"})
	require.NoError(t, err)

	err = mgr.Authenticate(context.Background(), "/"+token)
	require.NoError(t, err)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	mgr := NewJWTManager("test-secret", -time.Hour)
	token, err := mgr.Generate("viewer-1", nil)
	require.NoError(t, err)

	err = mgr.Authenticate(context.Background(), "/"+token)
	require.Error(t, err)
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	mgr := NewJWTManager("secret-a", time.Hour)
	token, err := mgr.Generate("viewer-1", nil)
	require.NoError(t, err)

	other := NewJWTManager("secret-b", time.Hour)
	err = other.Authenticate(context.Background(), "/"+token)
	require.Error(t, err)
}

func TestAuthenticateRejectsMissingToken(t *testing.T) {
	mgr := NewJWTManager("test-secret", time.Hour)
	err := mgr.Authenticate(context.Background(), "/")
	require.Error(t, err)
}

func TestTokenFromPathSupportsQueryForm(t *testing.T) {
	tok, err := tokenFromPath("/moq?token=abc.def.ghi")
	require.NoError(t, err)
	require.Equal(t, "abc.def.ghi", tok)
}
