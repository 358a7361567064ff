package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/durable/internal/durability"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "durable.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
db_path: /var/lib/durable/oplog.db
redis_addr: localhost:6379
persistence_level: persist-remote-side-effects
log_level: debug
retry:
  max_attempts: 5
  min_delay: 50ms
  max_delay: 1s
  multiplier: 1.5
`)

	cfg, err := load(path, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/durable/oplog.db", cfg.DBPath)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, durability.PersistRemoteSideEffects, cfg.PersistenceLevel)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, uint32(5), cfg.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.MinDelay)
	assert.Equal(t, time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 1.5, cfg.Retry.Multiplier)
	assert.Equal(t, Default().ListenAddr, cfg.ListenAddr, "unset keys keep their defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "db_path: from-file.db\nassume_idempotence: true\n")

	cfg, err := load(path, map[string]string{
		"DURABLE_DB_PATH":            "from-env.db",
		"DURABLE_ASSUME_IDEMPOTENCE": "false",
		"DURABLE_PERSISTENCE_LEVEL":  "persist-nothing",
		"DURABLE_RETRY_MAX_ATTEMPTS": "7",
		"DURABLE_LISTEN_ADDR":        ":9090",
	})
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.DBPath)
	assert.False(t, cfg.AssumeIdempotence)
	assert.Equal(t, durability.PersistNothing, cfg.PersistenceLevel)
	assert.Equal(t, uint32(7), cfg.Retry.MaxAttempts)
	assert.Equal(t, ":9090", cfg.ListenAddr)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		environ map[string]string
	}{
		{"unknown key", "colour: blue\n", nil},
		{"bad level", "persistence_level: everything\n", nil},
		{"bad env value", "", map[string]string{"DURABLE_MAX_INLINE_PAYLOAD": "lots"}},
		{"zero attempts", "retry:\n  max_attempts: 0\n", nil},
		{"inverted delays", "retry:\n  min_delay: 2s\n  max_delay: 1s\n", nil},
		{"empty db path", "db_path: \"\"\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file)
			}
			environ := tt.environ
			if environ == nil {
				environ = map[string]string{}
			}
			_, err := load(path, environ)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "absent.yaml"), map[string]string{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
