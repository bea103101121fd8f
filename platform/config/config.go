// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq client and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetDispatchInterval() time.Duration
}

// SMSConfig provides settings for the SMS gateway client.
type SMSConfig interface {
	GetTwilioAccountSID() string
	GetTwilioAuthToken() string
	GetTwilioFromNumber() string
	GetSMSSendRate() float64
}

// AIConfig provides settings for the text-generation client.
type AIConfig interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
}

// WindowConfig provides the daily send window settings.
type WindowConfig interface {
	GetSendWindowStart() string
	GetSendWindowEnd() string
	GetSendTimezone() string
}

// DispatchConfig provides settings for the dispatch loop.
type DispatchConfig interface {
	GetDispatchBatchSize() int
	GetDispatchConcurrency() int
	GetDispatchRunBudget() time.Duration
	GetDispatchCallTimeout() time.Duration
	GetDispatchAutoApprove() bool
	GetSendSoonDelay() time.Duration
	GetSendMaxAttempts() int
	GetSendRetryBase() time.Duration
	GetSendRetryMax() time.Duration
}

// AlertConfig provides settings for operator alert email.
type AlertConfig interface {
	GetAlertSMTPHost() string
	GetAlertSMTPPort() int
	GetAlertSMTPUsername() string
	GetAlertSMTPPassword() string
	GetAlertFromAddress() string
	GetAlertToAddress() string
	IsAlertEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                 string
	HTTPAddr            string
	DatabaseURL         string
	CORSAllowAll        bool
	CORSOrigins         []string
	CORSAllowCreds      bool
	RedisURL            string
	RedisTLSInsecure    bool
	AsynqQueueName      string
	AsynqConcurrency    int
	DispatchInterval    time.Duration
	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioFromNumber    string
	SMSSendRate         float64
	GeminiAPIKey        string
	GeminiModel         string
	SendWindowStart     string
	SendWindowEnd       string
	SendTimezone        string
	DispatchBatchSize   int
	DispatchConcurrency int
	DispatchRunBudget   time.Duration
	DispatchCallTimeout time.Duration
	DispatchAutoApprove bool
	SendSoonDelay       time.Duration
	SendMaxAttempts     int
	SendRetryBase       time.Duration
	SendRetryMax        time.Duration
	InboundAutocreate   bool
	AlertSMTPHost       string
	AlertSMTPPort       int
	AlertSMTPUsername   string
	AlertSMTPPassword   string
	AlertFromAddress    string
	AlertToAddress      string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string                { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool          { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string          { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int           { return c.AsynqConcurrency }
func (c *Config) GetDispatchInterval() time.Duration { return c.DispatchInterval }

// SMSConfig implementation
func (c *Config) GetTwilioAccountSID() string { return c.TwilioAccountSID }
func (c *Config) GetTwilioAuthToken() string  { return c.TwilioAuthToken }
func (c *Config) GetTwilioFromNumber() string { return c.TwilioFromNumber }
func (c *Config) GetSMSSendRate() float64     { return c.SMSSendRate }

// AIConfig implementation
func (c *Config) GetGeminiAPIKey() string { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string  { return c.GeminiModel }

// WindowConfig implementation
func (c *Config) GetSendWindowStart() string { return c.SendWindowStart }
func (c *Config) GetSendWindowEnd() string   { return c.SendWindowEnd }
func (c *Config) GetSendTimezone() string    { return c.SendTimezone }

// DispatchConfig implementation
func (c *Config) GetDispatchBatchSize() int             { return c.DispatchBatchSize }
func (c *Config) GetDispatchConcurrency() int           { return c.DispatchConcurrency }
func (c *Config) GetDispatchRunBudget() time.Duration   { return c.DispatchRunBudget }
func (c *Config) GetDispatchCallTimeout() time.Duration { return c.DispatchCallTimeout }
func (c *Config) GetDispatchAutoApprove() bool          { return c.DispatchAutoApprove }
func (c *Config) GetSendSoonDelay() time.Duration       { return c.SendSoonDelay }
func (c *Config) GetSendMaxAttempts() int               { return c.SendMaxAttempts }
func (c *Config) GetSendRetryBase() time.Duration       { return c.SendRetryBase }
func (c *Config) GetSendRetryMax() time.Duration        { return c.SendRetryMax }

// AlertConfig implementation
func (c *Config) GetAlertSMTPHost() string     { return c.AlertSMTPHost }
func (c *Config) GetAlertSMTPPort() int        { return c.AlertSMTPPort }
func (c *Config) GetAlertSMTPUsername() string { return c.AlertSMTPUsername }
func (c *Config) GetAlertSMTPPassword() string { return c.AlertSMTPPassword }
func (c *Config) GetAlertFromAddress() string  { return c.AlertFromAddress }
func (c *Config) GetAlertToAddress() string    { return c.AlertToAddress }
func (c *Config) IsAlertEnabled() bool {
	return c.AlertSMTPHost != "" && c.AlertToAddress != ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                 getEnv("APP_ENV", "development"),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		CORSAllowAll:        corsAllowAll,
		CORSOrigins:         corsOrigins,
		CORSAllowCreds:      strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:            getEnv("REDIS_URL", ""),
		RedisTLSInsecure:    strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:      getEnv("ASYNQ_QUEUE", "followups"),
		AsynqConcurrency:    mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		DispatchInterval:    mustDuration(getEnv("DISPATCH_INTERVAL", "5m")),
		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:    getEnv("TWILIO_PHONE_NUMBER", ""),
		SMSSendRate:         mustFloat(getEnv("SMS_SEND_RATE", "1")),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		SendWindowStart:     getEnv("SEND_WINDOW_START", "08:00"),
		SendWindowEnd:       getEnv("SEND_WINDOW_END", "19:00"),
		SendTimezone:        getEnv("SEND_TIMEZONE", "America/Chicago"),
		DispatchBatchSize:   mustInt(getEnv("DISPATCH_BATCH_SIZE", "25")),
		DispatchConcurrency: mustInt(getEnv("DISPATCH_CONCURRENCY", "4")),
		DispatchRunBudget:   mustDuration(getEnv("DISPATCH_RUN_BUDGET", "4m")),
		DispatchCallTimeout: mustDuration(getEnv("DISPATCH_CALL_TIMEOUT", "30s")),
		DispatchAutoApprove: strings.EqualFold(getEnv("DISPATCH_AUTO_APPROVE", "false"), "true"),
		SendSoonDelay:       mustDuration(getEnv("SEND_SOON_DELAY", "5m")),
		SendMaxAttempts:     mustInt(getEnv("SEND_MAX_ATTEMPTS", "5")),
		SendRetryBase:       mustDuration(getEnv("SEND_RETRY_BASE", "2s")),
		SendRetryMax:        mustDuration(getEnv("SEND_RETRY_MAX", "1m")),
		InboundAutocreate:   strings.EqualFold(getEnv("INBOUND_AUTOCREATE", "false"), "true"),
		AlertSMTPHost:       getEnv("ALERT_SMTP_HOST", ""),
		AlertSMTPPort:       mustInt(getEnv("ALERT_SMTP_PORT", "587")),
		AlertSMTPUsername:   getEnv("ALERT_SMTP_USERNAME", ""),
		AlertSMTPPassword:   getEnv("ALERT_SMTP_PASSWORD", ""),
		AlertFromAddress:    getEnv("ALERT_FROM_ADDRESS", ""),
		AlertToAddress:      getEnv("ALERT_TO_ADDRESS", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.DispatchBatchSize < 1 {
		return nil, fmt.Errorf("DISPATCH_BATCH_SIZE must be positive")
	}
	if cfg.SendMaxAttempts < 1 {
		return nil, fmt.Errorf("SEND_MAX_ATTEMPTS must be positive")
	}

	return cfg, nil
}

// RequireDispatcherSecrets verifies the collaborator credentials the worker
// process cannot run without. Missing credentials halt the dispatcher at
// startup rather than silently failing every lead at runtime.
func (c *Config) RequireDispatcherSecrets() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required for the dispatcher")
	}
	if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromNumber == "" {
		return fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER are required for the dispatcher")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required for the dispatcher")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
