package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Mail      MailConfig
	Google    GoogleConfig
	Twilio    TwilioConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Reminders ReminderConfig
	Mandate   MandateConfig
	Timeouts  TimeoutsConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	Mode           string // "debug", "release"
	AllowedOrigins string
}

type DatabaseConfig struct {
	Driver string // "sqlite3" or "postgres"
	DSN    string
	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	LogLevel        string // silent, error, warn, info
}

type JWTConfig struct {
	Secret        string
	Issuer        string
	Expiry        time.Duration
	RefreshExpiry time.Duration
}

type MailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// GmailEndpoint overrides the Gmail API base URL. Empty means Google's default.
	GmailEndpoint string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string // whatsapp sender, e.g. +14155238886
	APIURL     string
	Timeout    time.Duration
	// WebhookURL is the public URL Twilio posts inbound messages to; it is
	// part of the signed payload.
	WebhookURL string
}

type RedisConfig struct {
	URL string // empty selects the in-process event bus
}

type RateLimitConfig struct {
	Enabled         bool
	RequestsPer     int           // requests per window
	Window          time.Duration // time window
	Burst           int           // burst allowance
	CleanupInterval time.Duration
}

type ReminderConfig struct {
	Enabled        bool
	Interval       time.Duration
	DaysBeforeDue  int
	EnableEmail    bool
	EnableWhatsApp bool
}

type MandateConfig struct {
	BaseURL string
}

type TimeoutsConfig struct {
	ExternalAPI time.Duration
	Shutdown    time.Duration // graceful shutdown timeout
}

func Load() *Config {
	// .env is optional; real environment wins
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[CONFIG] failed to read .env: %v", err)
	}

	return &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8082"),
			ReadTimeout:    getDurationEnv("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getDurationEnv("WRITE_TIMEOUT", 0), // SSE streams stay open
			IdleTimeout:    getDurationEnv("IDLE_TIMEOUT", 120*time.Second),
			Mode:           getEnv("GIN_MODE", "debug"),
			AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "sqlite3"),
			DSN:             getEnv("DB_DSN", "./data/advisorcrm.db"),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getDurationEnv("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
			LogLevel:        getEnv("DB_LOG_LEVEL", "warn"),
		},
		JWT: JWTConfig{
			Secret:        getEnv("JWT_SECRET", "change-me-in-production"),
			Issuer:        getEnv("JWT_ISSUER", "advisorcrm"),
			Expiry:        getDurationEnv("JWT_EXPIRY", 24*time.Hour),
			RefreshExpiry: getDurationEnv("JWT_REFRESH_EXPIRY", 7*24*time.Hour),
		},
		Mail: MailConfig{
			SMTPHost:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			FromEmail:    getEnv("FROM_EMAIL", "advisor@example.com"),
			FromName:     getEnv("FROM_NAME", "Advisor CRM"),
		},
		Google: GoogleConfig{
			ClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:   getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8082/api/auth/google/callback"),
			GmailEndpoint: getEnv("GMAIL_ENDPOINT", ""),
		},
		Twilio: TwilioConfig{
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			From:       getEnv("TWILIO_WHATSAPP_FROM", ""),
			APIURL:     getEnv("TWILIO_API_URL", "https://api.twilio.com"),
			Timeout:    getDurationEnv("TWILIO_TIMEOUT", 30*time.Second),
			WebhookURL: getEnv("TWILIO_WEBHOOK_URL", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getBoolEnv("RATE_LIMIT_ENABLED", true),
			RequestsPer:     getIntEnv("RATE_LIMIT_REQUESTS_PER", 100),
			Window:          getDurationEnv("RATE_LIMIT_WINDOW", 1*time.Minute),
			Burst:           getIntEnv("RATE_LIMIT_BURST", 20),
			CleanupInterval: getDurationEnv("RATE_LIMIT_CLEANUP", 5*time.Minute),
		},
		Reminders: ReminderConfig{
			Enabled:        getBoolEnv("REMINDERS_ENABLED", true),
			Interval:       getDurationEnv("REMINDERS_INTERVAL", 1*time.Hour),
			DaysBeforeDue:  getIntEnv("REMINDERS_DAYS_BEFORE_DUE", 3),
			EnableEmail:    getBoolEnv("REMINDERS_EMAIL", true),
			EnableWhatsApp: getBoolEnv("REMINDERS_WHATSAPP", true),
		},
		Mandate: MandateConfig{
			BaseURL: getEnv("MANDATE_BASE_URL", "https://example.com/mandates"),
		},
		Timeouts: TimeoutsConfig{
			ExternalAPI: getDurationEnv("TIMEOUT_EXTERNAL_API", 30*time.Second),
			Shutdown:    getDurationEnv("TIMEOUT_SHUTDOWN", 30*time.Second),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal >= 0 {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if dur, err := time.ParseDuration(value); err == nil {
			return dur
		}
	}
	return defaultValue
}
