package main

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	tok, err := issuer.Issue("alice@test.local", RoleAdministrator)
	require.NoError(t, err)

	email, role, err := issuer.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice@test.local", email)
	assert.Equal(t, RoleAdministrator, role)
}

func TestTokenRejected(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	tok, err := issuer.Issue("alice@test.local", RoleStandardUser)
	require.NoError(t, err)

	_, _, err = NewTokenIssuer("other", time.Hour).Verify(tok)
	require.ErrorIs(t, err, ErrUnauthenticated)

	later := NewTokenIssuer("secret", time.Hour)
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, _, err = later.Verify(tok)
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, _, err = issuer.Verify(tok[:len(tok)-2] + "xx")
	require.ErrorIs(t, err, ErrUnauthenticated)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "alice@test.local", "Role": "administrator"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, _, err = issuer.Verify(unsigned)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestTokenUnknownRoleIsAnyone(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "alice@test.local",
		"Role": "superuser",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, role, err := issuer.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, RoleAnyone, role)
}

func TestPasswordHashing(t *testing.T) {
	h, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.False(t, strings.Contains(h, "hunter2"))
	require.NoError(t, CheckPassword(h, "hunter2"))
	require.ErrorIs(t, CheckPassword(h, "hunter3"), ErrInvalidCredentials)

	_, err = HashPassword("")
	require.ErrorIs(t, err, ErrInvalidArgument)
}
