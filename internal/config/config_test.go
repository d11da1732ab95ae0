package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, NotifyWebSocket, cfg.NotifyMode)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 30*time.Second, cfg.SubmitTimeout)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.FeedURL())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  url: https://sync.example.com/
redis:
  addr: localhost:6379
notify:
  mode: redis
presence:
  ttl: 2m
user:
  id: alice
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("EVENTSYNC_USER_ID", "bob")
	t.Setenv("EVENTSYNC_SUBMIT_TIMEOUT", "5s")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, NotifyRedis, cfg.NotifyMode)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 2*time.Minute, cfg.PresenceTTL)
	assert.Equal(t, "bob", cfg.User)
	assert.Equal(t, 5*time.Second, cfg.SubmitTimeout)
	assert.Equal(t, "wss://sync.example.com/ws", cfg.FeedURL())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown notify mode", map[string]string{"EVENTSYNC_NOTIFY_MODE": "carrier-pigeon"}},
		{"redis mode without redis", map[string]string{"EVENTSYNC_NOTIFY_MODE": "redis"}},
		{"non-positive token ttl", map[string]string{"EVENTSYNC_AUTH_TOKEN_TTL": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(t.TempDir())
			assert.Error(t, err)
		})
	}
}
