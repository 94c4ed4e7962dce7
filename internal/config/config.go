package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration, populated from the environment.
type Config struct {
	AppEnv    string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// DATABASE_URL accepts a postgres:// URL or a local SQLite path.
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"data/bot.db"`
	DatabaseSchema string `env:"DATABASE_SCHEMA"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisTLS      bool   `env:"REDIS_TLS" envDefault:"false"`

	HTTPListenAddr string `env:"HTTP_LISTEN_ADDR" envDefault:":8080"`
	PublicBaseURL  string `env:"PUBLIC_BASE_URL"`
	PublicBasePath string `env:"PUBLIC_BASE_PATH"`

	PaymentBaseURL           string        `env:"PAYMENT_BASE_URL"`
	PaymentAPIToken          string        `env:"PAYMENT_API_TOKEN"`
	PaymentTimeout           time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"15s"`
	PaymentWebhookSecretUser string        `env:"PAYMENT_WEBHOOK_SECRET_MD5_USERNAME"`
	PaymentWebhookSecretPass string        `env:"PAYMENT_WEBHOOK_SECRET_MD5_PASSWORD"`

	DefaultCurrency string `env:"DEFAULT_CURRENCY" envDefault:"IDR"`
	AdminExternalID string `env:"ADMIN_EXTERNAL_ID"`

	WhatsAppStorePath string `env:"WHATSAPP_STORE_PATH" envDefault:"data/wa.db"`
	WhatsAppLogLevel  string `env:"WHATSAPP_LOG_LEVEL" envDefault:"WARN"`

	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"botkursus"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
