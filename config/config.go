// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Wise      WiseConfig
	Payout    PayoutConfig
	Batch     BatchConfig
	Reconcile ReconcileConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN builds the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type KafkaConfig struct {
	Brokers     []string
	StatusTopic string
}

type WiseConfig struct {
	BaseURL       string
	APIToken      string
	ProfileID     string
	WebhookSecret string
	Timeout       time.Duration
}

// PayoutConfig carries the money-handling knobs. Fee splits are percentages
// per payout reason; unknown reasons pass through with no platform fee.
type PayoutConfig struct {
	PlatformCurrency string
	FeeSplits        map[string]decimal.Decimal
	EncryptionKey    string
}

// FeePercentFor returns the configured platform fee percentage for a payout
// reason, zero when the reason has no configured split.
func (p PayoutConfig) FeePercentFor(reason string) decimal.Decimal {
	if pct, ok := p.FeeSplits[reason]; ok {
		return pct
	}
	return decimal.Zero
}

type BatchConfig struct {
	MaxConcurrent    int
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
}

type ReconcileConfig struct {
	Interval   time.Duration
	StuckAfter time.Duration
}

func Load(logger *zap.Logger) (*Config, error) {
	// Best-effort: production deployments inject real env vars.
	if err := godotenv.Load(); err == nil {
		logger.Info("loaded environment from .env file")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8042"),
			Env:  getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "soundbridge_payouts"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:     strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			StatusTopic: getEnv("KAFKA_PAYOUT_STATUS_TOPIC", "payout.status"),
		},
		Wise: WiseConfig{
			BaseURL:       getEnv("WISE_BASE_URL", "https://api.sandbox.transferwise.tech"),
			APIToken:      getEnv("WISE_API_TOKEN", ""),
			ProfileID:     getEnv("WISE_PROFILE_ID", ""),
			WebhookSecret: getEnv("WISE_WEBHOOK_SECRET", ""),
			Timeout:       getEnvDuration("WISE_TIMEOUT", 30*time.Second),
		},
		Payout: PayoutConfig{
			PlatformCurrency: getEnv("PLATFORM_CURRENCY", "USD"),
			FeeSplits: map[string]decimal.Decimal{
				"ticket_sale": getEnvDecimal("FEE_SPLIT_TICKET_SALE", "5"),
				"tip":         getEnvDecimal("FEE_SPLIT_TIP", "0"),
				"withdrawal":  getEnvDecimal("FEE_SPLIT_WITHDRAWAL", "0"),
			},
			EncryptionKey: getEnv("FIELD_ENCRYPTION_KEY", ""),
		},
		Batch: BatchConfig{
			MaxConcurrent:    getEnvInt("BATCH_MAX_CONCURRENT", 5),
			RetryMaxAttempts: getEnvInt("PAYOUT_RETRY_MAX_ATTEMPTS", 3),
			RetryBaseDelay:   getEnvDuration("PAYOUT_RETRY_BASE_DELAY", 2*time.Second),
		},
		Reconcile: ReconcileConfig{
			Interval:   getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
			StuckAfter: getEnvDuration("RECONCILE_STUCK_AFTER", 15*time.Minute),
		},
	}

	if cfg.Wise.WebhookSecret == "" {
		logger.Warn("WISE_WEBHOOK_SECRET is empty, webhook signatures cannot be verified")
	}
	if cfg.Payout.EncryptionKey == "" {
		return nil, fmt.Errorf("FIELD_ENCRYPTION_KEY is required")
	}
	for reason, pct := range cfg.Payout.FeeSplits {
		if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("fee split for %s must be between 0 and 100, got %s", reason, pct)
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
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

func getEnvDecimal(key, defaultValue string) decimal.Decimal {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		d, _ = decimal.NewFromString(defaultValue)
	}
	return d
}
