package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "127.0.0.1"
  allowed_origins: ["https://app.sendquill.test"]

database:
  url: "postgres://localhost/sendquill?sslmode=disable"

tracking:
  base_url: "https://t.sendquill.test"

transport:
  kind: ses

ses:
  region: "eu-west-1"
  from_email: "news@sendquill.test"

sending:
  send_timeout_seconds: 10

scheduler:
  spec: "@every 30s"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	assert.Equal(t, []string{"https://app.sendquill.test"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "https://t.sendquill.test", cfg.Tracking.BaseURL)
	assert.Equal(t, "ses", cfg.Transport.Kind)
	assert.Equal(t, "eu-west-1", cfg.SES.Region)
	assert.Equal(t, 10*time.Second, cfg.Sending.SendTimeout())
	assert.Equal(t, "@every 30s", cfg.Scheduler.Spec)

	// Defaults still apply to fields left out
	assert.Equal(t, 30*time.Minute, cfg.Sending.LockTTL())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("{}"), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "gmail", cfg.Transport.Kind)
	assert.Equal(t, 30*time.Second, cfg.Sending.SendTimeout())
	assert.Equal(t, "@every 1m", cfg.Scheduler.Spec)
	assert.Equal(t, 50, cfg.Scheduler.BatchSize)
	assert.Equal(t, "us-west-2", cfg.SES.Region)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("server: [unclosed"), 0644)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 9000\n"), 0644))

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REDIS_URL", "redis://env:6379/0")
	t.Setenv("GOOGLE_CLIENT_ID", "cid")
	t.Setenv("GOOGLE_CLIENT_SECRET", "secret")
	t.Setenv("TRACKING_BASE_URL", "https://track.env")
	t.Setenv("TRANSPORT_KIND", "GMAIL")
	t.Setenv("PORT", "7070")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, "redis://env:6379/0", cfg.Redis.URL)
	assert.Equal(t, "cid", cfg.Google.ClientID)
	assert.Equal(t, "https://track.env", cfg.Tracking.BaseURL)
	assert.Equal(t, "gmail", cfg.Transport.Kind)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Error(t, cfg.Validate(), "database url missing")

	cfg.Database.URL = "postgres://x"
	assert.Error(t, cfg.Validate(), "gmail needs client credentials")

	cfg.Transport.Kind = "ses"
	assert.Error(t, cfg.Validate(), "ses needs a from address")
	cfg.SES.FromEmail = "a@b.test"
	assert.NoError(t, cfg.Validate())

	cfg.Transport.Kind = "carrier-pigeon"
	assert.Error(t, cfg.Validate())
}
