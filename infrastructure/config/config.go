package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreDynamoDB = "dynamodb"
	StoreMongo    = "mongo"
)

// Config holds all application configuration
type Config struct {
	Environment Environment `yaml:"environment" validate:"oneof=development staging production"`
	LogLevel    string      `yaml:"log_level" validate:"oneof=debug info warn error"`

	Server  Server  `yaml:"server"`
	Auth    Auth    `yaml:"auth"`
	Sync    Sync    `yaml:"sync"`
	Store   Store   `yaml:"store"`
	Events  Events  `yaml:"events"`
	Breaker Breaker `yaml:"breaker"`

	// LoadedFrom lists the sources applied, lowest priority first.
	LoadedFrom []string `yaml:"-"`
}

// Server configures the HTTP listener.
type Server struct {
	Address         string        `yaml:"address" validate:"required"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// Auth configures token validation and upgrade throttling.
type Auth struct {
	JWTSecret         string `yaml:"jwt_secret"`
	JWTIssuer         string `yaml:"jwt_issuer"`
	JWTAudience       string `yaml:"jwt_audience"`
	UpgradesPerMinute int    `yaml:"upgrades_per_minute" validate:"gte=0"`
}

// Sync configures live sessions.
type Sync struct {
	MaxMessageSize        int64         `yaml:"max_message_size" validate:"gt=0"`
	SendBufferSize        int           `yaml:"send_buffer_size" validate:"gt=0"`
	MaxBatchOps           int           `yaml:"max_batch_ops" validate:"gt=0"`
	PermissionTimeout     time.Duration `yaml:"permission_timeout" validate:"gt=0"`
	MaxConnectionsPerUser int           `yaml:"max_connections_per_user" validate:"gte=0"`
}

// Store selects and configures the document store.
type Store struct {
	Backend       string `yaml:"backend" validate:"oneof=memory dynamodb mongo"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	AWSRegion     string `yaml:"aws_region"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

// Events configures presence event publishing. An empty bus disables it.
type Events struct {
	EventBusName string `yaml:"event_bus_name"`
	Source       string `yaml:"source"`
	BufferSize   int    `yaml:"buffer_size" validate:"gte=0"`
}

// Breaker configures the store circuit breaker.
type Breaker struct {
	MaxFailures uint32        `yaml:"max_failures" validate:"gt=0"`
	OpenTimeout time.Duration `yaml:"open_timeout" validate:"gt=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Environment: Development,
		LogLevel:    "info",
		Server: Server{
			Address:         ":8080",
			AllowedOrigins:  []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: Auth{
			UpgradesPerMinute: 60,
		},
		Sync: Sync{
			MaxMessageSize:        512 * 1024,
			SendBufferSize:        256,
			MaxBatchOps:           500,
			PermissionTimeout:     5 * time.Second,
			MaxConnectionsPerUser: 10,
		},
		Store: Store{
			Backend:       StoreMemory,
			DynamoDBTable: "mindflow",
			AWSRegion:     "us-east-1",
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "mindflow",
		},
		Events: Events{
			Source:     "mindflow.sync",
			BufferSize: 1024,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			OpenTimeout: 30 * time.Second,
		},
	}
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	switch c.Store.Backend {
	case StoreDynamoDB:
		if c.Store.DynamoDBTable == "" {
			return fmt.Errorf("DYNAMODB_TABLE is required for the dynamodb store")
		}
	case StoreMongo:
		if c.Store.MongoURI == "" || c.Store.MongoDatabase == "" {
			return fmt.Errorf("MONGO_URI and MONGO_DATABASE are required for the mongo store")
		}
	}

	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList gets a comma separated environment variable with a default value
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
