package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HUDDLE_ACCESS_TTL", "")
	t.Setenv("SMTP_HOST", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, "huddle-uploads", cfg.S3.Bucket)
	assert.Equal(t, "587", cfg.SMTP.Port)
	assert.Empty(t, cfg.SMTP.Host)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("HUDDLE_ACCESS_TTL", "5m")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("HUDDLE_AUTH_BURST", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.True(t, cfg.S3.UseSSL)
	assert.Equal(t, 3, cfg.AuthBurst)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("HUDDLE_REFRESH_TTL", "soon")
	_, err := Load()
	require.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, Config{LogLevel: "DEBUG"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, Config{LogLevel: "nope"}.SlogLevel())
}
