package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
server:
  port: 9090
database:
  driver: sqlite
  sqlite_path: raffle.db
storage:
  bucket: raffle-images
business:
  draw_delay: 48h
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0o600))
	return path
}

func TestLoadConfigSecretsFromEnv(t *testing.T) {
	t.Setenv("STORAGE_ACCESS_KEY", "AKIA_TEST")
	t.Setenv("STORAGE_SECRET_KEY", "storage-secret")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_1")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_1")
	t.Setenv("AUTH_TOKEN_SECRET", "token")
	t.Setenv("AUTH_CALLBACK_SECRET", "callback")
	t.Setenv("DATABASE_PASSWORD", "db-pass")

	cfg, err := LoadConfig(writeConfig(t))
	require.NoError(t, err)

	assert.Equal(t, "AKIA_TEST", cfg.Storage.AccessKey)
	assert.Equal(t, "storage-secret", cfg.Storage.SecretKey)
	assert.Equal(t, "sk_test_1", cfg.Stripe.SecretKey)
	assert.Equal(t, "whsec_1", cfg.Stripe.WebhookSecret)
	assert.Equal(t, "token", cfg.Auth.TokenSecret)
	assert.Equal(t, "callback", cfg.Auth.CallbackSecret)
	assert.Equal(t, "db-pass", cfg.Database.Password)
	assert.Equal(t, "raffle-images", cfg.Storage.Bucket)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 48*time.Hour, cfg.Business.DrawDelay)
	// 文件里没有的保留默认值
	assert.Equal(t, int64(5), cfg.Business.StartingCredits)
	assert.Equal(t, 24*time.Hour, cfg.Business.DailyRewardCooldown)
	assert.True(t, cfg.Business.UniqueTicketNumbers)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
