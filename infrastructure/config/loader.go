// Package config loads service configuration from defaults, an optional YAML
// file and environment variables, in increasing order of priority.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration. path names a YAML file; when empty the
// CONFIG_FILE environment variable is consulted, and with neither set only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.LoadedFrom = append(cfg.LoadedFrom, "defaults")

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
		cfg.LoadedFrom = append(cfg.LoadedFrom, path)
	}

	loadEnvironmentVariables(cfg)
	cfg.LoadedFrom = append(cfg.LoadedFrom, "environment")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// loadEnvironmentVariables overlays environment variables on the configuration.
func loadEnvironmentVariables(cfg *Config) {
	cfg.Environment = Environment(getEnv("ENVIRONMENT", string(cfg.Environment)))
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	// Server
	cfg.Server.Address = getEnv("SERVER_ADDRESS", cfg.Server.Address)
	cfg.Server.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
	cfg.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	// Authentication
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.JWTIssuer = getEnv("JWT_ISSUER", cfg.Auth.JWTIssuer)
	cfg.Auth.JWTAudience = getEnv("JWT_AUDIENCE", cfg.Auth.JWTAudience)
	cfg.Auth.UpgradesPerMinute = getEnvInt("UPGRADES_PER_MINUTE", cfg.Auth.UpgradesPerMinute)

	// Sync
	cfg.Sync.MaxMessageSize = int64(getEnvInt("MAX_MESSAGE_SIZE", int(cfg.Sync.MaxMessageSize)))
	cfg.Sync.SendBufferSize = getEnvInt("SEND_BUFFER_SIZE", cfg.Sync.SendBufferSize)
	cfg.Sync.MaxBatchOps = getEnvInt("MAX_BATCH_OPS", cfg.Sync.MaxBatchOps)
	cfg.Sync.PermissionTimeout = getEnvDuration("PERMISSION_TIMEOUT", cfg.Sync.PermissionTimeout)
	cfg.Sync.MaxConnectionsPerUser = getEnvInt("MAX_CONNECTIONS_PER_USER", cfg.Sync.MaxConnectionsPerUser)

	// Store
	cfg.Store.Backend = getEnv("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.DynamoDBTable = getEnv("TABLE_NAME", getEnv("DYNAMODB_TABLE", cfg.Store.DynamoDBTable))
	cfg.Store.AWSRegion = getEnv("AWS_REGION", cfg.Store.AWSRegion)
	cfg.Store.MongoURI = getEnv("MONGO_URI", cfg.Store.MongoURI)
	cfg.Store.MongoDatabase = getEnv("MONGO_DATABASE", cfg.Store.MongoDatabase)

	// Events
	cfg.Events.EventBusName = getEnv("EVENT_BUS_NAME", cfg.Events.EventBusName)
	cfg.Events.Source = getEnv("EVENT_SOURCE", cfg.Events.Source)

	// Circuit breaker
	cfg.Breaker.MaxFailures = uint32(getEnvInt("BREAKER_MAX_FAILURES", int(cfg.Breaker.MaxFailures)))
	cfg.Breaker.OpenTimeout = getEnvDuration("BREAKER_OPEN_TIMEOUT", cfg.Breaker.OpenTimeout)
}
