package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RETRY_TIMEOUTS", "")
	t.Setenv("ENVIRONMENT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 15*time.Minute, cfg.CallGraceWindow)
	assert.Equal(t, []time.Duration{10 * time.Minute, 30 * time.Minute, 60 * time.Minute}, cfg.RetryTimeouts)
	assert.Equal(t, 4, cfg.MaxCallAttempts)
	assert.Equal(t, "https://exp.host/--/api/v2/push/send", cfg.ExpoPushURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("RETRY_TIMEOUTS", "5m, 15m")
	t.Setenv("MAX_CALL_ATTEMPTS", "2")
	t.Setenv("CALL_GRACE_WINDOW", "20m")
	t.Setenv("APNS_PRODUCTION", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, []time.Duration{5 * time.Minute, 15 * time.Minute}, cfg.RetryTimeouts)
	assert.Equal(t, 2, cfg.MaxCallAttempts)
	assert.Equal(t, 20*time.Minute, cfg.CallGraceWindow)
	assert.False(t, cfg.APNsProduction)
}

func TestLoadRejectsBadRetryTimeouts(t *testing.T) {
	t.Setenv("RETRY_TIMEOUTS", "5m,soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestRetryTimeout(t *testing.T) {
	cfg := &Config{RetryTimeouts: []time.Duration{time.Minute, 2 * time.Minute}}
	assert.Equal(t, time.Minute, cfg.RetryTimeout(0))
	assert.Equal(t, time.Minute, cfg.RetryTimeout(1))
	assert.Equal(t, 2*time.Minute, cfg.RetryTimeout(2))
	assert.Equal(t, 2*time.Minute, cfg.RetryTimeout(7))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DatabaseURL:        "postgres://localhost/wakeline",
			MaxCallAttempts:    3,
			RetryTimeouts:      []time.Duration{time.Minute},
			CallGraceWindow:    time.Minute,
			SchedulerBatchSize: 10,
		}
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.DatabaseURL = ""
	assert.EqualError(t, cfg.Validate(), "DATABASE_URL is required")

	cfg = valid()
	cfg.IOSVoipKeyID, cfg.IOSVoipTeamID, cfg.IOSVoipAuthKey = "k", "t", "a"
	assert.Error(t, cfg.Validate())
	cfg.IOSVoipTopic = "com.example.app.voip"
	assert.NoError(t, cfg.Validate())
}
