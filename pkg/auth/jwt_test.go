package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewJWTService("secret", time.Hour, "relay-api")

	token, err := svc.GenerateToken("ops@example.com", RoleAdmin)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, "relay-api", claims.Issuer)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a", time.Hour, "relay-api").GenerateToken("svc", RoleService)
	require.NoError(t, err)

	_, err = NewJWTService("secret-b", time.Hour, "relay-api").ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := &jwtService{secret: []byte("secret"), expiry: -time.Hour, issuer: "relay-api"}

	token, err := svc.GenerateToken("svc", RoleService)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := NewJWTService("secret", time.Hour, "relay-api")
	_, err := svc.ValidateToken("not-a-token")
	assert.Error(t, err)
}
