package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsCheck(t *testing.T) {
	hash, err := HashPassword("S3cure-enough")
	require.NoError(t, err)
	creds := Credentials{Username: "operator", PasswordHash: hash}

	assert.True(t, creds.Check("operator", "S3cure-enough"))
	assert.False(t, creds.Check("operator", "wrong"))
	assert.False(t, creds.Check("intruder", "S3cure-enough"))
}

func TestEmptyCredentialsNeverMatch(t *testing.T) {
	var creds Credentials
	assert.False(t, creds.Enabled())
	assert.False(t, creds.Check("", ""))
}

func TestTokenRoundTrip(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	token, err := m.Generate("operator")
	require.NoError(t, err)

	subject, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", subject)
}

func TestExpiredTokenRejected(t *testing.T) {
	m := NewManager("test-secret", -time.Minute)

	token, err := m.Generate("operator")
	require.NoError(t, err)

	_, err = m.Validate(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestForeignSecretRejected(t *testing.T) {
	token, err := NewManager("secret-a", time.Hour).Generate("operator")
	require.NoError(t, err)

	_, err = NewManager("secret-b", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGarbageTokenRejected(t *testing.T) {
	_, err := NewManager("secret", time.Hour).Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
