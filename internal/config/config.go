package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Easy Farm Cart (Ecwid protocol)
	EcwidStoreID       string
	EcwidToken         string
	EcwidWebhookSecret string
	EcwidAPIBase       string

	// Square
	SquareAccessToken  string
	SquareEnvironment  string
	SquareSignatureKey string
	SquareWebhookURL   string
	SquareLocationID   string
	SquareAPIBase      string
	SquareCurrency     string

	// Database
	DatabaseURL string

	// Redis (optional; memory store when empty)
	RedisURL string

	// Kafka
	KafkaBrokers string

	// API Configuration
	APIPort string
	APIHost string

	// Diagnostics
	AdminToken string

	// Sync tuning
	DedupWindowSeconds  int
	CatalogCacheSeconds int

	// Environment
	Env      string
	LogLevel string
}

func Load() (*Config, error) {
	// Load .env file
	godotenv.Load()

	return &Config{
		EcwidStoreID:        getEnv("ECWID_STORE_ID", ""),
		EcwidToken:          getEnv("ECWID_TOKEN", ""),
		EcwidWebhookSecret:  getEnv("ECWID_WEBHOOK_SECRET", ""),
		EcwidAPIBase:        getEnv("ECWID_API_BASE", "https://app.ecwid.com/api/v3"),
		SquareAccessToken:   getEnv("SQUARE_ACCESS_TOKEN", ""),
		SquareEnvironment:   getEnv("SQUARE_ENVIRONMENT", "sandbox"),
		SquareSignatureKey:  getEnv("SQUARE_SIGNATURE_KEY", ""),
		SquareWebhookURL:    getEnv("SQUARE_WEBHOOK_URL", ""),
		SquareLocationID:    getEnv("SQUARE_LOCATION_ID", ""),
		SquareAPIBase:       getEnv("SQUARE_API_BASE", ""),
		SquareCurrency:      getEnv("SQUARE_CURRENCY", "USD"),
		DatabaseURL:         getEnv("DATABASE_URL", "sqlite://squaresync.db"),
		RedisURL:            getEnv("REDIS_URL", ""),
		KafkaBrokers:        getEnv("KAFKA_BROKERS", "localhost:9092"),
		APIPort:             getEnv("API_PORT", "8080"),
		APIHost:             getEnv("API_HOST", "0.0.0.0"),
		AdminToken:          getEnv("ADMIN_TOKEN", ""),
		DedupWindowSeconds:  getEnvAsInt("DEDUP_WINDOW_SECONDS", 120),
		CatalogCacheSeconds: getEnvAsInt("CATALOG_CACHE_SECONDS", 60),
		Env:                 getEnv("ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
