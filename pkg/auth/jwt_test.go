package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "unit-test-secret"

func sign(t *testing.T, claims jwt.Claims, key string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

func TestJWTValidator_ValidateToken(t *testing.T) {
	validator, err := NewJWTValidator(JWTConfig{SecretKey: secret})
	require.NoError(t, err)

	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	t.Run("Should accept generated tokens", func(t *testing.T) {
		gen, err := NewJWTGenerator(JWTConfig{SecretKey: secret}, time.Minute)
		require.NoError(t, err)
		token, err := gen.GenerateToken("alice", "alice@example.com")
		require.NoError(t, err)

		claims, err := validator.ValidateToken("Bearer " + token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Identity())
		assert.Equal(t, "alice@example.com", claims.Email)
	})

	t.Run("Should read the nested user id", func(t *testing.T) {
		token := sign(t, jwt.MapClaims{"user": map[string]string{"id": "bob"}, "exp": future.Unix()}, secret)
		claims, err := validator.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "bob", claims.Identity())
	})

	t.Run("Should fall back to subject", func(t *testing.T) {
		token := sign(t, jwt.RegisteredClaims{Subject: "carol", ExpiresAt: future}, secret)
		claims, err := validator.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "carol", claims.Identity())
	})

	t.Run("Should reject expired tokens", func(t *testing.T) {
		token := sign(t, jwt.RegisteredClaims{Subject: "alice", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}, secret)
		_, err := validator.ValidateToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("Should reject a foreign signature", func(t *testing.T) {
		token := sign(t, jwt.RegisteredClaims{Subject: "alice", ExpiresAt: future}, "other-secret")
		_, err := validator.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("Should reject tokens without identity", func(t *testing.T) {
		token := sign(t, jwt.RegisteredClaims{ExpiresAt: future}, secret)
		_, err := validator.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidClaims)
	})

	t.Run("Should reject empty input", func(t *testing.T) {
		_, err := validator.ValidateToken("  ")
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("Should reject garbage", func(t *testing.T) {
		_, err := validator.ValidateToken("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestJWTValidator_IssuerAndAudience(t *testing.T) {
	validator, err := NewJWTValidator(JWTConfig{SecretKey: secret, Issuer: "mindflow", Audience: []string{"sync"}})
	require.NoError(t, err)

	good, err := NewJWTGenerator(JWTConfig{SecretKey: secret, Issuer: "mindflow", Audience: []string{"sync"}}, time.Minute)
	require.NoError(t, err)
	token, err := good.GenerateToken("alice", "")
	require.NoError(t, err)
	_, err = validator.ValidateToken(token)
	assert.NoError(t, err)

	wrongAudience, err := NewJWTGenerator(JWTConfig{SecretKey: secret, Issuer: "mindflow", Audience: []string{"api"}}, time.Minute)
	require.NoError(t, err)
	token, err = wrongAudience.GenerateToken("alice", "")
	require.NoError(t, err)
	_, err = validator.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidClaims)

	wrongIssuer, err := NewJWTGenerator(JWTConfig{SecretKey: secret, Issuer: "elsewhere", Audience: []string{"sync"}}, time.Minute)
	require.NoError(t, err)
	token, err = wrongIssuer.GenerateToken("alice", "")
	require.NoError(t, err)
	_, err = validator.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewJWTValidator_RequiresSecret(t *testing.T) {
	_, err := NewJWTValidator(JWTConfig{})
	assert.Error(t, err)
}

func TestExtractToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=from-query", nil)
	assert.Equal(t, "from-query", ExtractToken(req))

	req.AddCookie(&http.Cookie{Name: "auth_token", Value: "from-cookie"})
	assert.Equal(t, "from-cookie", ExtractToken(req))

	req.Header.Set("x-auth-token", "from-header")
	assert.Equal(t, "from-header", ExtractToken(req))

	req.Header.Set("Authorization", "Bearer from-bearer")
	assert.Equal(t, "from-bearer", ExtractToken(req))
}

func TestUserContext(t *testing.T) {
	_, err := GetUserFromContext(context.Background())
	assert.Error(t, err)

	ctx := SetUserInContext(context.Background(), &UserContext{UserID: "alice"})
	user, err := GetUserFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.UserID)
}
