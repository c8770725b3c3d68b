package jwttoken

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "lagerkoll/pkg/domain-errors"
)

var userID = uuid.New()

func newService(ttl time.Duration) *JWTService {
	return NewJWTService("test-signing-key", "test-issuer", ttl)
}

func Test_GenerateAccessToken(t *testing.T) {
	svc := newService(time.Hour)
	token, expiresAt, err := svc.GenerateAccessToken(userID, "eva", "worker")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	got, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, got)
	assert.Equal(t, "eva", claims.Username)
	assert.Equal(t, "worker", claims.Role)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := newService(time.Hour).ValidateToken("invalid-token-string")
	require.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.Equal(t, "invalid token", dErrors.MessageOf(err))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	svc := newService(-time.Hour)
	token, _, err := svc.GenerateAccessToken(userID, "eva", "worker")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.Equal(t, "token has expired", dErrors.MessageOf(err))
}

func Test_ValidateToken_WrongKeyOrIssuer(t *testing.T) {
	token, _, err := newService(time.Hour).GenerateAccessToken(userID, "eva", "admin")
	require.NoError(t, err)

	_, err = NewJWTService("other-key", "test-issuer", time.Hour).ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = NewJWTService("test-signing-key", "other-issuer", time.Hour).ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_MiddlewareAdapter(t *testing.T) {
	svc := newService(time.Hour)
	token, _, err := svc.GenerateAccessToken(userID, "eva", "admin")
	require.NoError(t, err)

	claims, err := NewMiddlewareAdapter(svc).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "admin", claims.Role)
}
