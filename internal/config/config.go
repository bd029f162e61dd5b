package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port        string
	Environment string

	// Database
	DatabaseURL string

	// Redis (empty URL keeps the registry in process memory)
	RedisURL    string
	RedisDB     int
	RedisPrefix string

	// Wake channel (APNs VoIP, token auth)
	IOSVoipKeyID   string
	IOSVoipTeamID  string
	IOSVoipAuthKey string
	IOSVoipTopic   string
	APNsProduction bool

	// Relay channels
	ExpoPushURL             string
	ExpoAccessToken         string
	FirebaseCredentialsPath string

	// Push
	PushRatePerSecond int
	PushTimeout       time.Duration
	CallerDisplayName string
	CallerHandle      string
	RelayBody         string
	RelayChannelID    string

	// Scheduler
	SchedulerInterval  time.Duration
	CallGraceWindow    time.Duration
	SchedulerBatchSize int

	// Retry
	RetryInterval   time.Duration
	RetryTimeouts   []time.Duration
	MaxCallAttempts int

	// Retention
	RegistryRetention time.Duration
	LedgerRetention   time.Duration

	// Content generation
	ContentServiceURL string
	ContentCacheTTL   time.Duration

	// Logging
	LogLevel    string
	LogFormat   string
	LogFile     string
	LogRingSize int
	// DebugEventCapacity bounds the device debug events kept for /debug/voip.
	DebugEventCapacity int

	// SMTP Configuration
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	SMTPFromName      string
	SMTPFromEmail     string
	OutcomeAlertEmail string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded, reading process environment")
	}

	environment := getEnvWithDefault("ENVIRONMENT", "development")
	logFormat := "json"
	if environment == "development" {
		logFormat = "text"
	}

	timeouts, err := getEnvDurations("RETRY_TIMEOUTS", []time.Duration{10 * time.Minute, 30 * time.Minute, 60 * time.Minute})
	if err != nil {
		return nil, err
	}

	return &Config{
		// Server
		Port:        getEnvWithDefault("PORT", "8080"),
		Environment: environment,

		// Database
		DatabaseURL: os.Getenv("DATABASE_URL"),

		// Redis
		RedisURL:    os.Getenv("REDIS_URL"),
		RedisDB:     getEnvInt("REDIS_DB", 0),
		RedisPrefix: getEnvWithDefault("REDIS_PREFIX", "wakeline:"),

		// Wake channel
		IOSVoipKeyID:   os.Getenv("IOS_VOIP_KEY_ID"),
		IOSVoipTeamID:  os.Getenv("IOS_VOIP_TEAM_ID"),
		IOSVoipAuthKey: os.Getenv("IOS_VOIP_AUTH_KEY"),
		IOSVoipTopic:   os.Getenv("IOS_VOIP_TOPIC"),
		APNsProduction: getEnvBool("APNS_PRODUCTION", true),

		// Relay channels
		ExpoPushURL:             getEnvWithDefault("EXPO_PUSH_URL", "https://exp.host/--/api/v2/push/send"),
		ExpoAccessToken:         os.Getenv("EXPO_ACCESS_TOKEN"),
		FirebaseCredentialsPath: os.Getenv("FIREBASE_CREDENTIALS_PATH"),

		// Push
		PushRatePerSecond: getEnvInt("PUSH_RATE_PER_SECOND", 50),
		PushTimeout:       getEnvDuration("PUSH_TIMEOUT", 10*time.Second),
		CallerDisplayName: getEnvWithDefault("CALLER_DISPLAY_NAME", "Accountability Check"),
		CallerHandle:      getEnvWithDefault("CALLER_HANDLE", "Wakeline Accountability"),
		RelayBody:         getEnvWithDefault("RELAY_BODY", "Time to face yourself"),
		RelayChannelID:    getEnvWithDefault("RELAY_CHANNEL_ID", "accountability-calls"),

		// Scheduler
		SchedulerInterval:  getEnvDuration("SCHEDULER_INTERVAL", 5*time.Minute),
		CallGraceWindow:    getEnvDuration("CALL_GRACE_WINDOW", 15*time.Minute),
		SchedulerBatchSize: getEnvInt("SCHEDULER_BATCH_SIZE", 10),

		// Retry
		RetryInterval:   getEnvDuration("RETRY_INTERVAL", time.Minute),
		RetryTimeouts:   timeouts,
		MaxCallAttempts: getEnvInt("MAX_CALL_ATTEMPTS", 4),

		// Retention
		RegistryRetention: getEnvDuration("REGISTRY_RETENTION", 72*time.Hour),
		LedgerRetention:   getEnvDuration("LEDGER_RETENTION", 48*time.Hour),

		// Content generation
		ContentServiceURL: os.Getenv("CONTENT_SERVICE_URL"),
		ContentCacheTTL:   getEnvDuration("CONTENT_CACHE_TTL", 30*time.Minute),

		// Logging
		LogLevel:    getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat:   getEnvWithDefault("LOG_FORMAT", logFormat),
		LogFile:     os.Getenv("LOG_FILE"),
		LogRingSize: getEnvInt("LOG_RING_SIZE", 200),

		DebugEventCapacity: getEnvInt("DEBUG_EVENT_CAPACITY", 100),

		// SMTP
		SMTPHost:          getEnvWithDefault("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:          getEnvInt("SMTP_PORT", 587),
		SMTPUsername:      os.Getenv("SMTP_USERNAME"),
		SMTPPassword:      os.Getenv("SMTP_PASSWORD"),
		SMTPFromName:      getEnvWithDefault("SMTP_FROM_NAME", "Wakeline"),
		SMTPFromEmail:     os.Getenv("SMTP_FROM_EMAIL"),
		OutcomeAlertEmail: os.Getenv("OUTCOME_ALERT_EMAIL"),
	}, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDurations(key string, defaultValue []time.Duration) ([]time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	var out []time.Duration
	for _, part := range strings.Split(value, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("%s: durations must be positive", key)
		}
		out = append(out, d)
	}
	return out, nil
}

// WakeChannelConfigured reports whether all three wake channel credentials
// are present. It does not check that they are well formed.
func (c *Config) WakeChannelConfigured() bool {
	return c.IOSVoipKeyID != "" && c.IOSVoipTeamID != "" && c.IOSVoipAuthKey != ""
}

// Validate checks the settings required to serve traffic.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.MaxCallAttempts < 1 {
		return fmt.Errorf("MAX_CALL_ATTEMPTS must be at least 1")
	}

	if len(c.RetryTimeouts) == 0 {
		return fmt.Errorf("RETRY_TIMEOUTS must list at least one duration")
	}

	if c.CallGraceWindow <= 0 {
		return fmt.Errorf("CALL_GRACE_WINDOW must be positive")
	}

	if c.SchedulerBatchSize < 1 {
		return fmt.Errorf("SCHEDULER_BATCH_SIZE must be at least 1")
	}

	if c.WakeChannelConfigured() && c.IOSVoipTopic == "" {
		return fmt.Errorf("IOS_VOIP_TOPIC is required when wake channel credentials are set")
	}

	if c.OutcomeAlertEmail != "" && (c.SMTPUsername == "" || c.SMTPPassword == "") {
		slog.Warn("outcome alert email set but SMTP credentials are missing")
	}

	return nil
}

// RetryTimeout is how long attempt n waits for an acknowledgment. Attempts
// beyond the configured list reuse the last entry.
func (c *Config) RetryTimeout(attempt int) time.Duration {
	if len(c.RetryTimeouts) == 0 {
		return 10 * time.Minute
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c.RetryTimeouts) {
		idx = len(c.RetryTimeouts) - 1
	}
	return c.RetryTimeouts[idx]
}
