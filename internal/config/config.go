// Package config loads the enumerated configuration surface out of
// environment variables: a Load() constructor and a set of typed getEnv
// helpers, no viper/koanf indirection.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully enumerated environment-scoped configuration surface.
type Config struct {
	Port string

	DatabaseURL string
	RedisURL    string
	NATSURL     string

	// MigrationsDir, when non-empty, switches startup from gorm
	// AutoMigrate to the versioned golang-migrate files it points at.
	MigrationsDir string

	ClassifierAPIKey string
	ClassifierModel  string

	SupplierSource string

	AddressValidatorAPIKey string

	CardNetworkConsumerKey   string
	CardNetworkPrivateKey    string
	CardNetworkEnv           string // sandbox | production
	CardNetworkWebhookSecret string
	CardNetworkWebhookEnabled bool

	PredictorAPIKey string
	PredictorModelID string

	WorkerConcurrency WorkerConcurrency
	RateLimits        RateLimits

	MerchantMaxBatchSize      int
	MerchantPollInterval      time.Duration
	BatchSubBatchSize         int
	RetentionSearchRequestsDays int

	// PredictionWaitsForEnrichment controls whether the predict stage waits
	// for the other enabled per-record stages to reach a terminal state
	// before dispatching. Default true.
	PredictionWaitsForEnrichment bool

	AdminAuthEnabled bool
	AdminJWTSecret   string
}

// WorkerConcurrency is workers.concurrency.{classify,supplier,address,merchant,predict}.
type WorkerConcurrency struct {
	Classify int
	Supplier int
	Address  int
	Merchant int
	Predict  int
}

// RateLimits is workers.rateLimit.{classify,supplier,address,merchant,predict},
// expressed as tokens-per-interval.
type RateLimits struct {
	Classify TokenRate
	Supplier TokenRate
	Address  TokenRate
	Merchant TokenRate
	Predict  TokenRate
}

// TokenRate is a token-bucket rate: Tokens replenished every Interval.
type TokenRate struct {
	Tokens   int
	Interval time.Duration
}

// Load populates Config from the environment, applying sensible
// defaults where a variable is unset. When CONFIG_FILE points at a YAML
// file its key: value pairs backfill variables the environment left
// unset; explicit env vars always win.
func Load() *Config {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		applyFileOverlay(path)
	}
	return &Config{
		Port: getEnv("PORT", "8080"),

		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/payee_enrichment?sslmode=disable"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		NATSURL:     getEnv("NATS_URL", "nats://localhost:4222"),

		MigrationsDir: getEnv("MIGRATIONS_DIR", ""),

		ClassifierAPIKey: getEnv("CLASSIFIER_API_KEY", ""),
		ClassifierModel:  getEnv("CLASSIFIER_MODEL", "payee-classifier-v1"),

		SupplierSource: getEnv("SUPPLIER_SOURCE", "known_suppliers"),

		AddressValidatorAPIKey: getEnv("ADDRESS_VALIDATOR_API_KEY", ""),

		CardNetworkConsumerKey:   getEnv("CARD_NETWORK_CONSUMER_KEY", ""),
		CardNetworkPrivateKey:    getEnv("CARD_NETWORK_PRIVATE_KEY", ""),
		CardNetworkEnv:           getEnv("CARD_NETWORK_ENV", "sandbox"),
		CardNetworkWebhookSecret:  getEnv("CARD_NETWORK_WEBHOOK_SECRET", ""),
		CardNetworkWebhookEnabled: getEnvBool("CARD_NETWORK_WEBHOOK_ENABLED", true),

		PredictorAPIKey:  getEnv("PREDICTOR_API_KEY", ""),
		PredictorModelID: getEnv("PREDICTOR_MODEL_ID", "payment-success-v1"),

		WorkerConcurrency: WorkerConcurrency{
			Classify: getEnvInt("WORKERS_CONCURRENCY_CLASSIFY", 3),
			Supplier: getEnvInt("WORKERS_CONCURRENCY_SUPPLIER", 5),
			Address:  getEnvInt("WORKERS_CONCURRENCY_ADDRESS", 5),
			Merchant: getEnvInt("WORKERS_CONCURRENCY_MERCHANT", 2),
			Predict:  getEnvInt("WORKERS_CONCURRENCY_PREDICT", 4),
		},
		RateLimits: RateLimits{
			Classify: TokenRate{Tokens: getEnvInt("WORKERS_RATELIMIT_CLASSIFY_TOKENS", 500), Interval: time.Minute},
			Supplier: TokenRate{Tokens: getEnvInt("WORKERS_RATELIMIT_SUPPLIER_TOKENS", 100), Interval: time.Second},
			Address:  TokenRate{Tokens: getEnvInt("WORKERS_RATELIMIT_ADDRESS_TOKENS", 50), Interval: time.Second},
			Merchant: TokenRate{Tokens: getEnvInt("WORKERS_RATELIMIT_MERCHANT_TOKENS", 5), Interval: time.Second},
			Predict:  TokenRate{Tokens: getEnvInt("WORKERS_RATELIMIT_PREDICT_TOKENS", 1000), Interval: time.Minute},
		},

		MerchantMaxBatchSize:        getEnvInt("MERCHANT_MAX_BATCH_SIZE", 3000),
		MerchantPollInterval:        time.Duration(getEnvInt("MERCHANT_POLL_INTERVAL_SECONDS", 60)) * time.Second,
		BatchSubBatchSize:           getEnvInt("BATCH_SUB_BATCH_SIZE", 500),
		RetentionSearchRequestsDays: getEnvInt("RETENTION_SEARCH_REQUESTS_DAYS", 90),

		PredictionWaitsForEnrichment: getEnvBool("PREDICTION_WAITS_FOR_ENRICHMENT", true),

		AdminAuthEnabled: getEnvBool("ADMIN_AUTH_ENABLED", false),
		AdminJWTSecret:   getEnv("ADMIN_JWT_SECRET", ""),
	}
}

// applyFileOverlay exports each key from the YAML file at path into the
// environment unless the variable is already set, so the rest of Load
// reads one merged view through getEnv.
func applyFileOverlay(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	overlay := map[string]string{}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return
	}
	for k, v := range overlay {
		if os.Getenv(k) == "" {
			os.Setenv(k, v)
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
