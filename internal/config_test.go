package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "file:test.db")
	t.Setenv("DATABASE_DRIVER", "sqlite3")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.AIProvider)
	assert.Equal(t, "local", cfg.StateStorageProvider)
	assert.Equal(t, 15, cfg.SceneHistorySize)
	assert.Equal(t, 1024, cfg.FrameMaxDimension)
	assert.Equal(t, 85, cfg.FrameJPEGQuality)
	assert.Equal(t, "memory", cfg.LockProvider)
	assert.False(t, cfg.AllowReopenResolved)
	assert.Equal(t, 100*time.Millisecond, cfg.PersistRetryBaseDelay)
}

func TestNewConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database url", map[string]string{"DATABASE_URL": ""}},
		{"unknown driver", map[string]string{"DATABASE_DRIVER": "mysql"}},
		{"r2 without bucket", map[string]string{"STATE_STORAGE_PROVIDER": "r2", "R2_ACCOUNT_ID": "a", "R2_ACCESS_KEY_ID": "k", "R2_SECRET_ACCESS_KEY": "s"}},
		{"unknown storage", map[string]string{"STATE_STORAGE_PROVIDER": "ftp"}},
		{"anthropic without key", map[string]string{"AI_PROVIDER": "anthropic"}},
		{"openai without key", map[string]string{"AI_PROVIDER": "openai"}},
		{"unknown provider", map[string]string{"AI_PROVIDER": "gemini"}},
		{"unknown lock provider", map[string]string{"LOCK_PROVIDER": "etcd"}},
		{"lock ttl below provider timeout", map[string]string{"LOCK_PROVIDER": "redis", "LOCK_TTL": "30s", "AI_REQUEST_TIMEOUT": "60s"}},
		{"jpeg quality out of range", map[string]string{"FRAME_JPEG_QUALITY": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/sitewatch")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewConfig()
			assert.Error(t, err)
		})
	}
}

func TestNewConfig_Lists(t *testing.T) {
	t.Setenv("DATABASE_URL", "file:test.db")
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("ALERT_ALLOWED_ORIGINS", " https://a.example, ,https://b.example")
	t.Setenv("FRAME_RATE_LIMIT", "5")
	t.Setenv("FRAME_RATE_WINDOW", "10s")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AlertAllowedOrigins)
	assert.Equal(t, 5, cfg.FrameRateLimit)
	assert.Equal(t, 10*time.Second, cfg.FrameRateWindow)
}
