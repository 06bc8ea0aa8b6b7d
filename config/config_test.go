package config_test

import (
	"testing"
	"time"

	"github.com/hydroforecast/apiserver/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := config.LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 60*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 10*time.Second, cfg.Poller.FetchTimeout)
	assert.Equal(t, 3.0, cfg.Tanks.DefaultHeightMeters)
	assert.Equal(t, "tank-alerts", cfg.Alerts.Channel)
	assert.Empty(t, cfg.Archive.Backend)
	assert.Empty(t, cfg.Alerts.Backend)
}

func TestLoadConfig_PollerRequiresAPIKey(t *testing.T) {
	cfg := config.LoadConfig()
	assert.False(t, cfg.Poller.Enabled, "no API key means no poller")

	t.Setenv("WEATHER_API_KEY", "abc123")
	cfg = config.LoadConfig()
	assert.True(t, cfg.Poller.Enabled)

	t.Setenv("POLLER_ENABLED", "false")
	cfg = config.LoadConfig()
	assert.False(t, cfg.Poller.Enabled, "explicit opt-out wins over the API key")
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("TOKEN_TTL", "1h")
	t.Setenv("POLL_INTERVAL", "5m")
	t.Setenv("DEFAULT_TANK_HEIGHT_METERS", "2.5")
	t.Setenv("DB_USE_SSL", "true")

	cfg := config.LoadConfig()
	assert.Equal(t, 9999, cfg.ServerPort)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 5*time.Minute, cfg.Poller.Interval)
	assert.Equal(t, 2.5, cfg.Tanks.DefaultHeightMeters)
	assert.True(t, cfg.Database.UseSSL)
}

func TestLoadConfig_BadDurationFallsBack(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "not-a-duration")
	cfg := config.LoadConfig()
	assert.Equal(t, 60*time.Second, cfg.Poller.Interval)
}
