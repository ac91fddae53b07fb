package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuth(t *testing.T) *Auth {
	t.Helper()
	return NewAuth(AuthConfig{
		AdminUsername:      "admin",
		AdminPassword:      "hunter2",
		TokenSecret:        "a-secret-at-least-thirty-two-bytes-long",
		TokenTTL:           time.Hour,
		MaxLoginAttempts:   3,
		LoginWindowSeconds: 60,
	})
}

func TestAuth_AuthenticateRejectsWrongCredentials(t *testing.T) {
	a := testAuth(t)

	_, err := a.Authenticate("admin", "wrong", "203.0.113.1:5555")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.Authenticate("someone-else", "hunter2", "203.0.113.1:5555")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuth_AuthenticateAndValidateRoundTrip(t *testing.T) {
	a := testAuth(t)

	token, err := a.Authenticate("admin", "hunter2", "203.0.113.1:5555")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Sub)
}

func TestAuth_ValidateTokenRejectsTampering(t *testing.T) {
	a := testAuth(t)
	token, err := a.Authenticate("admin", "hunter2", "203.0.113.1:5555")
	require.NoError(t, err)

	_, err = a.ValidateToken(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.ValidateToken("not.a.token")
	assert.Error(t, err)
}

func TestAuth_ValidateTokenRejectsForeignSecret(t *testing.T) {
	a := testAuth(t)
	other := NewAuth(AuthConfig{
		AdminUsername: "admin", AdminPassword: "hunter2",
		TokenSecret: "a-different-secret-of-thirty-two-bytes!",
	})
	token, err := a.Authenticate("admin", "hunter2", "203.0.113.1:5555")
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuth_RateLimiterLocksOutAfterRepeatedFailures(t *testing.T) {
	a := testAuth(t)
	ip := "203.0.113.1:5555"

	for i := 0; i < 3; i++ {
		_, err := a.Authenticate("admin", "wrong", ip)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := a.Authenticate("admin", "hunter2", ip)
	assert.ErrorIs(t, err, ErrRateLimited, "a correct password must still be rejected once the window is exhausted")
	assert.True(t, a.IsRateLimited(ip))
}

func TestAuth_RateLimiterIsPerIP(t *testing.T) {
	a := testAuth(t)

	for i := 0; i < 3; i++ {
		a.Authenticate("admin", "wrong", "203.0.113.1:5555")
	}
	assert.True(t, a.IsRateLimited("203.0.113.1:5555"))
	assert.False(t, a.IsRateLimited("203.0.113.2:5555"))
}
