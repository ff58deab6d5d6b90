// Package auth validates a bearer token supplied as a WebTransport setup
// path parameter, backing the relay's pluggable authorization hook.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the authenticated principal and which namespaces it
// may publish or subscribe to; an empty Namespaces means unrestricted.
type Claims struct {
	Subject    string   `json:"sub"`
	Namespaces []string `json:"namespaces,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager issues and verifies HMAC-signed session tokens.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewJWTManager builds a JWTManager signing with the given secret.
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{secretKey: []byte(secretKey), tokenDuration: tokenDuration}
}

// Generate issues a signed token for subject, scoped to the given
// namespaces (empty means unrestricted).
func (m *JWTManager) Generate(subject string, namespaces []string) (string, error) {
	claims := &Claims{
		Subject:    subject,
		Namespaces: namespaces,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   subject,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

func (m *JWTManager) verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// Authenticate implements relay.Authenticator: path is the ClientSetup
// PATH parameter, expected to be "/<token>" or carry "?token=<token>".
func (m *JWTManager) Authenticate(_ context.Context, path string) error {
	token, err := tokenFromPath(path)
	if err != nil {
		return err
	}
	_, err = m.verify(token)
	return err
}

func tokenFromPath(path string) (string, error) {
	if idx := strings.Index(path, "?token="); idx >= 0 {
		return path[idx+len("?token="):], nil
	}
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", errors.New("auth: no token present in setup path")
	}
	return trimmed, nil
}
