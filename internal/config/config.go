package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are loaded from environment variables on top of the defaults below
// so the binary can run locally with little setup.
type ServerConfig struct {
	HTTPAddr        string        `env:"HTTP_ADDR"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT"`

	LogLevel string `env:"LOG_LEVEL"`

	// PGDSN selects the PostgreSQL store; empty means in-memory.
	PGDSN         string `env:"PG_DSN"`
	RunMigrations bool   `env:"MIGRATE"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisGeoKey   string `env:"REDIS_GEO_KEY"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC"`

	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE"`

	PushEndpoint string `env:"PUSH_ENDPOINT"`
	PushKey      string `env:"PUSH_KEY"`

	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER"`

	CloudinaryCloud  string `env:"CLOUDINARY_CLOUD"`
	CloudinaryPreset string `env:"CLOUDINARY_PRESET"`

	StripeAPIKey    string `env:"STRIPE_API_KEY"`
	PaymentCurrency string `env:"PAYMENT_CURRENCY"`
	SessionPricing  bool   `env:"SESSION_PRICING"`

	// StrictWrites runs multi-step mutations inside one store transaction.
	StrictWrites bool `env:"STRICT_WRITES"`

	NearbyPrefetchFactor  int     `env:"NEARBY_PREFETCH_FACTOR"`
	NearbyDefaultRadiusKm float64 `env:"NEARBY_DEFAULT_RADIUS_KM"`
	NearbyDefaultLimit    int     `env:"NEARBY_DEFAULT_LIMIT"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL"`
	SweepBatch    int           `env:"SWEEP_BATCH"`

	ReminderInterval time.Duration `env:"REMINDER_INTERVAL"`
	ReminderBatch    int           `env:"REMINDER_BATCH"`

	OSRMEndpoint    string        `env:"OSRM_ENDPOINT"`
	ETACacheTTL     time.Duration `env:"ETA_CACHE_TTL"`
	DefaultSpeedMps float64       `env:"ETA_DEFAULT_SPEED_MPS"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:              ":8080",
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           120 * time.Second,
		ShutdownTimeout:       15 * time.Second,
		LogLevel:              "info",
		RedisGeoKey:           "spots_geo",
		KafkaTopic:            "spot-events",
		AMQPExchange:          "notifications",
		PaymentCurrency:       "usd",
		NearbyPrefetchFactor:  2,
		NearbyDefaultRadiusKm: 1,
		NearbyDefaultLimit:    20,
		SweepInterval:         time.Minute,
		SweepBatch:            200,
		ReminderInterval:      30 * time.Second,
		ReminderBatch:         200,
		ETACacheTTL:           30 * time.Second,
		DefaultSpeedMps:       8,
		RateLimitRPS:          5,
		RateLimitBurst:        10,
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)
	return cfg, cfg.validate()
}

func (c ServerConfig) validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	}
	if c.NearbyPrefetchFactor <= 0 {
		errs = append(errs, fmt.Errorf("NEARBY_PREFETCH_FACTOR must be > 0"))
	}
	if c.NearbyDefaultRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("NEARBY_DEFAULT_RADIUS_KM must be > 0"))
	}
	if c.NearbyDefaultLimit <= 0 {
		errs = append(errs, fmt.Errorf("NEARBY_DEFAULT_LIMIT must be > 0"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be > 0"))
	}
	if c.SweepBatch <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_BATCH must be > 0"))
	}
	if c.ReminderInterval <= 0 || c.ReminderBatch <= 0 {
		errs = append(errs, fmt.Errorf("REMINDER_INTERVAL and REMINDER_BATCH must be > 0"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0"))
	}
	if c.RunMigrations && c.PGDSN == "" {
		errs = append(errs, fmt.Errorf("MIGRATE requires PG_DSN"))
	}
	return errors.Join(errs...)
}

// ConsumerConfig configures the spot event consumer that maintains the
// Redis GEO index.
type ConsumerConfig struct {
	MetricsAddr   string   `env:"METRICS_ADDR"`
	LogLevel      string   `env:"LOG_LEVEL"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic    string   `env:"KAFKA_TOPIC"`
	KafkaGroup    string   `env:"KAFKA_GROUP"`
	RedisAddr     string   `env:"REDIS_ADDR"`
	RedisPassword string   `env:"REDIS_PASSWORD"`
	RedisGeoKey   string   `env:"REDIS_GEO_KEY"`
	PGDSN         string   `env:"PG_DSN"`
}

func defaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		MetricsAddr:  ":2112",
		LogLevel:     "info",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "spot-events",
		KafkaGroup:   "spot-index-consumer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "spots_geo",
	}
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := defaultConsumerConfig()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)
	if len(cfg.KafkaBrokers) == 0 {
		return cfg, fmt.Errorf("KAFKA_BROKERS must list at least one broker")
	}
	return cfg, nil
}

func trimAll(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
