package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, 3, cfg.Jobs.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Jobs.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Jobs.CallTimeout)
	assert.Equal(t, "gpt-3.5-turbo", cfg.OpenAI.ValidationModel)
	assert.Equal(t, 25, cfg.Scraper.Timeout)
	assert.True(t, cfg.Scraper.Headless)
	assert.False(t, cfg.Auth.Enabled)
	assert.False(t, cfg.R2Configured())
}

func TestLoad_EnvOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("SCRAPER_HEADLESS", "false")
	t.Setenv("SCRAPER_MAX_CUSTOMERS", "250")
	t.Setenv("JOBS_RETRY_BASE_DELAY", "250ms")
	t.Setenv("SCHEDULE_LEADGEN", "0 6 * * 1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Scraper.Headless)
	assert.Equal(t, 250, cfg.Scraper.MaxCustomers)
	assert.Equal(t, 250*time.Millisecond, cfg.Jobs.RetryBaseDelay)
	assert.Equal(t, "0 6 * * 1", cfg.Schedule.LeadGen)
}

func TestReadSecret_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db_url")
	require.NoError(t, os.WriteFile(path, []byte("postgres://crm@db/crm\n"), 0o600))

	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_URL_FILE", path)

	readSecret("DATABASE_URL")
	assert.Equal(t, "postgres://crm@db/crm", os.Getenv("DATABASE_URL"))
}

func TestReadSecret_DirectValueWins(t *testing.T) {
	t.Setenv("JWT_SECRET", "direct")
	t.Setenv("JWT_SECRET_FILE", "/does/not/exist")

	readSecret("JWT_SECRET")
	assert.Equal(t, "direct", os.Getenv("JWT_SECRET"))
}
