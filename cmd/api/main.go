package main

import (
	"log"

	"squaresync/internal/api"
	"squaresync/internal/audit"
	"squaresync/internal/config"
	"squaresync/internal/logger"
	"squaresync/internal/state"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize logger
	logger := logger.New(cfg.LogLevel)
	defer logger.Sync()

	// Initialize state store
	var store state.Store
	if cfg.RedisURL != "" {
		redisStore, err := state.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("Failed to connect to redis: %v", err)
		}
		store = redisStore
	} else {
		logger.Warn("REDIS_URL not set, using in-memory state store")
		store = state.NewMemoryStore()
	}

	// Initialize audit publisher
	var auditPub audit.Publisher = audit.NopPublisher{}
	if cfg.KafkaBrokers != "" {
		auditPub = audit.NewKafkaPublisher(cfg.KafkaBrokers, logger)
	}

	// Initialize API server
	server := api.New(cfg, logger, store, auditPub)

	// Start server
	logger.Info("Starting API server on port " + cfg.APIPort)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}
