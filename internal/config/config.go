package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clinic/clinic/internal/domain/scheduling"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

const minSigningKeyLen = 32

type Config struct {
	Port                   string        `mapstructure:"PORT"`
	Env                    string        `mapstructure:"ENV"`
	Storage                string        `mapstructure:"STORAGE"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32         `mapstructure:"DB_MIN_CONNS"`
	ClinicTimezone         string        `mapstructure:"CLINIC_TIMEZONE"`
	SlotGranularityMinutes int           `mapstructure:"SLOT_GRANULARITY_MINUTES"`
	AuthSigningKey         string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer             string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience           string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins            []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS           float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst         int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout         time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit              string        `mapstructure:"BODY_LIMIT"`
	NotifySinks            []string      `mapstructure:"NOTIFY_SINKS"`
	NotifyQueueSize        int           `mapstructure:"NOTIFY_QUEUE_SIZE"`
	KafkaBrokers           []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic             string        `mapstructure:"KAFKA_TOPIC"`
	SQSQueueURL            string        `mapstructure:"SQS_QUEUE_URL"`
	WebhookURL             string        `mapstructure:"WEBHOOK_URL"`
	WebhookSecret          string        `mapstructure:"WEBHOOK_SECRET"`
}

var keys = []string{
	"PORT", "ENV", "STORAGE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CLINIC_TIMEZONE", "SLOT_GRANULARITY_MINUTES",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
	"NOTIFY_SINKS", "NOTIFY_QUEUE_SIZE", "KAFKA_BROKERS", "KAFKA_TOPIC", "SQS_QUEUE_URL",
	"WEBHOOK_URL", "WEBHOOK_SECRET",
}

// Load reads the environment, falling back to a .env file in the working
// directory, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORAGE", StoragePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("SLOT_GRANULARITY_MINUTES", 60)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "10s")
	v.SetDefault("BODY_LIMIT", "64K")
	v.SetDefault("NOTIFY_SINKS", "log")
	v.SetDefault("NOTIFY_QUEUE_SIZE", 1024)
	v.SetDefault("KAFKA_TOPIC", "clinic.appointments")

	for _, k := range keys {
		v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.NotifySinks = splitList(v.GetString("NOTIFY_SINKS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves CLINIC_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate rejects settings the server cannot run safely with. Outside
// development a signing key is mandatory, since the dev identity is only
// granted when ENV=development.
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "test", "staging", "production":
	default:
		return fmt.Errorf("ENV must be development, test, staging or production, got %q", c.Env)
	}

	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE is %q", StoragePostgres)
		}
		if c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) are inconsistent", c.DBMinConns, c.DBMaxConns)
		}
	case StorageMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORAGE=%s is not allowed in production", StorageMemory)
		}
	default:
		return fmt.Errorf("STORAGE must be %q or %q, got %q", StoragePostgres, StorageMemory, c.Storage)
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	if err := scheduling.ValidateGranularity(c.SlotGranularityMinutes); err != nil {
		return fmt.Errorf("SLOT_GRANULARITY_MINUTES: %w", err)
	}

	if !c.IsDev() && len(c.AuthSigningKey) < minSigningKeyLen {
		return fmt.Errorf("AUTH_SIGNING_KEY of at least %d bytes is required when ENV=%s", minSigningKeyLen, c.Env)
	}

	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	if c.NotifyQueueSize < 1 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE must be positive, got %d", c.NotifyQueueSize)
	}

	for _, sink := range c.NotifySinks {
		switch strings.ToLower(sink) {
		case "log", "websocket", "ws":
		case "kafka":
			if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
				return fmt.Errorf("NOTIFY_SINKS includes kafka but KAFKA_BROKERS or KAFKA_TOPIC is empty")
			}
		case "sqs":
			if c.SQSQueueURL == "" {
				return fmt.Errorf("NOTIFY_SINKS includes sqs but SQS_QUEUE_URL is empty")
			}
		case "webhook":
			if c.WebhookURL == "" || c.WebhookSecret == "" {
				return fmt.Errorf("NOTIFY_SINKS includes webhook but WEBHOOK_URL or WEBHOOK_SECRET is empty")
			}
		default:
			return fmt.Errorf("unknown notification sink %q", sink)
		}
	}
	return nil
}
