package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/telecare/telecare/internal/domain/payment"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Port                     string   `mapstructure:"PORT"`
	Env                      string   `mapstructure:"ENV"`
	LogLevel                 string   `mapstructure:"LOG_LEVEL"`
	Storage                  string   `mapstructure:"STORAGE"`
	DatabaseURL              string   `mapstructure:"DATABASE_URL"`
	DBMaxConns               int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns               int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir            string   `mapstructure:"MIGRATIONS_DIR"`
	RedisURL                 string   `mapstructure:"REDIS_URL"`
	KafkaBrokers             string   `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic               string   `mapstructure:"KAFKA_TOPIC"`
	WebhookURL               string   `mapstructure:"WEBHOOK_URL"`
	WebhookSecret            string   `mapstructure:"WEBHOOK_SECRET"`
	WebhookEvents            []string `mapstructure:"WEBHOOK_EVENTS"`
	AuthIssuer               string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL              string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience             string   `mapstructure:"AUTH_AUDIENCE"`
	JWTSigningKey            string   `mapstructure:"JWT_SIGNING_KEY"`
	CORSOrigins              []string `mapstructure:"CORS_ORIGINS"`
	ConsultationFee          string   `mapstructure:"CONSULTATION_FEE"`
	DeliveryFee              string   `mapstructure:"DELIVERY_FEE"`
	PrescriptionValidityDays int      `mapstructure:"PRESCRIPTION_VALIDITY_DAYS"`
	SlotMinMinutes           int      `mapstructure:"SLOT_MIN_MINUTES"`
	SlotMaxMinutes           int      `mapstructure:"SLOT_MAX_MINUTES"`
	MetricsEnabled           bool     `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORAGE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"MIGRATIONS_DIR", "REDIS_URL", "KAFKA_BROKERS", "KAFKA_TOPIC", "WEBHOOK_URL",
	"WEBHOOK_SECRET", "WEBHOOK_EVENTS", "AUTH_ISSUER", "AUTH_JWKS_URL",
	"AUTH_AUDIENCE", "JWT_SIGNING_KEY", "CORS_ORIGINS", "CONSULTATION_FEE", "DELIVERY_FEE",
	"PRESCRIPTION_VALIDITY_DAYS", "SLOT_MIN_MINUTES", "SLOT_MAX_MINUTES", "METRICS_ENABLED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORAGE", StoragePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("KAFKA_TOPIC", "telecare.events")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("CONSULTATION_FEE", "50.00")
	v.SetDefault("DELIVERY_FEE", "10.00")
	v.SetDefault("PRESCRIPTION_VALIDITY_DAYS", 30)
	v.SetDefault("SLOT_MIN_MINUTES", 15)
	v.SetDefault("SLOT_MAX_MINUTES", 240)
	v.SetDefault("METRICS_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if len(cfg.WebhookEvents) <= 1 {
		if events := v.GetString("WEBHOOK_EVENTS"); events != "" {
			cfg.WebhookEvents = strings.Split(events, ",")
		}
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) Fees() (consultation, delivery payment.Money, err error) {
	if consultation, err = payment.ParseMoney(c.ConsultationFee); err != nil {
		return 0, 0, fmt.Errorf("CONSULTATION_FEE: %w", err)
	}
	if delivery, err = payment.ParseMoney(c.DeliveryFee); err != nil {
		return 0, 0, fmt.Errorf("DELIVERY_FEE: %w", err)
	}
	return consultation, delivery, nil
}

func (c *Config) PrescriptionValidity() time.Duration {
	return time.Duration(c.PrescriptionValidityDays) * 24 * time.Hour
}

// Validate checks that the configuration is safe to run. Outside
// development a real JWT issuer or signing key is required.
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE=%s", StoragePostgres)
		}
	case StorageMemory:
	default:
		return fmt.Errorf("STORAGE must be %q or %q, got %q", StoragePostgres, StorageMemory, c.Storage)
	}

	consultation, delivery, err := c.Fees()
	if err != nil {
		return err
	}
	if consultation <= 0 || delivery <= 0 {
		return fmt.Errorf("CONSULTATION_FEE and DELIVERY_FEE must be positive")
	}
	if c.PrescriptionValidityDays <= 0 {
		return fmt.Errorf("PRESCRIPTION_VALIDITY_DAYS must be positive, got %d", c.PrescriptionValidityDays)
	}
	if c.SlotMinMinutes <= 0 || c.SlotMinMinutes > c.SlotMaxMinutes {
		return fmt.Errorf("SLOT_MIN_MINUTES (%d) must be positive and not exceed SLOT_MAX_MINUTES (%d)",
			c.SlotMinMinutes, c.SlotMaxMinutes)
	}

	if !c.IsDev() && c.AuthIssuer == "" && c.JWTSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or JWT_SIGNING_KEY must be set outside development (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if c.AuthIssuer != "" && c.AuthJWKSURL == "" && c.JWTSigningKey == "" {
		return fmt.Errorf("AUTH_JWKS_URL is required when AUTH_ISSUER is set without JWT_SIGNING_KEY")
	}
	if c.WebhookURL != "" && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
	}
	return nil
}
