package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Port        string
	Environment string
	LogLevel    string

	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioWhatsAppNumber    string
	TwilioValidateSignature bool
	WebhookPublicURL        string

	OpenAIAPIKey string
	OpenAIModel  string

	DatabaseURL     string
	SQLitePath      string
	LocalTimezone   *time.Location
	ContextRedisURL string

	PollInterval    time.Duration
	LookbackWindow  time.Duration
	DeliveryWorkers int
	SendTimeout     time.Duration
	Retention       time.Duration

	DefaultNotifyLead time.Duration
	AskNotifyOffset   bool
	NearMissBuffer    time.Duration
	DraftTTL          time.Duration
	TopicTTL          time.Duration

	ProcessTimeout       time.Duration
	InboundRatePerMinute int
}

// Load reads configuration values and prepares defaults where applicable.
func Load() *Config {
	_ = godotenv.Load()

	timezoneName := getenvDefault("LOCAL_TIMEZONE", "Local")
	location, err := time.LoadLocation(timezoneName)
	if err != nil {
		log.Printf("config: invalid LOCAL_TIMEZONE %q, defaulting to system local: %v", timezoneName, err)
		location = time.Local
	}

	return &Config{
		Port:        getenvDefault("PORT", "8080"),
		Environment: getenvDefault("ENVIRONMENT", "development"),
		LogLevel:    getenvDefault("LOG_LEVEL", "info"),

		TwilioAccountSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:         os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioWhatsAppNumber:    os.Getenv("TWILIO_WHATSAPP_NUMBER"),
		TwilioValidateSignature: ParseBoolEnv("TWILIO_VALIDATE_SIGNATURE", false),
		WebhookPublicURL:        os.Getenv("WEBHOOK_PUBLIC_URL"),

		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:  getenvDefault("OPENAI_MODEL", "gpt-4o-mini"),

		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      getenvDefault("SQLITE_PATH", "reminders.db"),
		LocalTimezone:   location,
		ContextRedisURL: os.Getenv("CONTEXT_REDIS_URL"),

		PollInterval:    ParseDurationEnv("POLL_INTERVAL", time.Minute),
		LookbackWindow:  ParseDurationEnv("LOOKBACK_WINDOW", 72*time.Hour),
		DeliveryWorkers: ParseIntEnv("DELIVERY_WORKERS", 4),
		SendTimeout:     ParseDurationEnv("SEND_TIMEOUT", 15*time.Second),
		Retention:       ParseDurationEnv("RETENTION", 720*time.Hour),

		DefaultNotifyLead: ParseDurationEnv("DEFAULT_NOTIFY_LEAD", 30*time.Minute),
		AskNotifyOffset:   ParseBoolEnv("ASK_NOTIFY_OFFSET", false),
		NearMissBuffer:    ParseDurationEnv("NEAR_MISS_BUFFER", time.Minute),
		DraftTTL:          ParseDurationEnv("DRAFT_TTL", 10*time.Minute),
		TopicTTL:          ParseDurationEnv("TOPIC_TTL", 15*time.Minute),

		ProcessTimeout:       ParseDurationEnv("PROCESS_TIMEOUT", 60*time.Second),
		InboundRatePerMinute: ParseIntEnv("INBOUND_RATE_PER_MINUTE", 20),
	}
}

// IsProduction reports whether ENVIRONMENT names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenvDefault(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	return value
}

// ParseIntEnv returns the integer value for an environment variable or the provided default.
func ParseIntEnv(key string, def int) int {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("config: unable to parse %s=%q as int: %v", key, value, err)
		return def
	}
	return parsed
}

// ParseDurationEnv returns the duration value for an environment variable or
// the provided default. Non-positive values are rejected.
func ParseDurationEnv(key string, def time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		log.Printf("config: unable to parse %s=%q as a positive duration: %v", key, value, err)
		return def
	}
	return parsed
}

// ParseBoolEnv returns the boolean value for an environment variable or the provided default.
func ParseBoolEnv(key string, def bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return def
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("config: unable to parse %s=%q as bool: %v", key, value, err)
		return def
	}
	return parsed
}
