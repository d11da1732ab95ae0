package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/eventsync/internal/models"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	token, err := m.Generate(&models.User{ID: "alice", Email: "alice@example.com"})
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	other := NewJWTManager("other-secret", time.Hour)
	expired := NewJWTManager("test-secret", -time.Minute)

	foreign, err := other.Generate(&models.User{ID: "alice"})
	require.NoError(t, err)
	stale, err := expired.Generate(&models.User{ID: "alice"})
	require.NoError(t, err)

	for name, token := range map[string]string{"foreign": foreign, "expired": stale, "garbage": "not-a-token"} {
		_, err := m.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestJWTManager_Authenticate(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)
	token, err := m.Generate(&models.User{ID: "bob"})
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/ws", nil)
	_, err = m.Authenticate(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	r.Header.Set("Authorization", "Token "+token)
	_, err = m.Authenticate(r)
	assert.ErrorIs(t, err, ErrInvalidToken)

	r.Header.Set("Authorization", "Bearer "+token)
	user, err := m.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "bob", user)
}
