package config

import (
	"chat-relay/internal/logger"
	"fmt"
	"os"
	"strconv"
	"time"
)

// AppConfig holds all application configuration
type AppConfig struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Vault    VaultConfig
	LLM      LLMConfig
	WS       WSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// GetDSN constructs the PostgreSQL connection string
func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret       []byte
	TokenExpiration time.Duration
}

// VaultConfig holds the master secret for API key encryption at rest
type VaultConfig struct {
	MasterKey string
}

// LLMConfig holds provider configuration. There is no server-level API
// key: every turn runs on a user-supplied or user-stored credential.
type LLMConfig struct {
	ClientCacheTTL time.Duration
}

// WSConfig holds websocket session configuration
type WSConfig struct {
	HeartbeatInterval time.Duration
}

const devMasterKey = "default-key-change-in-production"

// LoadConfig loads and validates application configuration from environment
func LoadConfig() (*AppConfig, error) {
	config := &AppConfig{}

	config.Server = ServerConfig{
		Port: getEnvOrDefault("SERVER_PORT", "8080"),
	}

	config.Database = DatabaseConfig{
		Host:     getEnvOrDefault("DB_HOST", "postgres"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		User:     getEnvOrDefault("DB_USER", "postgres"),
		Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
		Name:     getEnvOrDefault("DB_NAME", "chatrelay"),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable must be set")
	}
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}

	config.Auth = AuthConfig{
		JWTSecret:       []byte(jwtSecret),
		TokenExpiration: getEnvAsDuration("AUTH_TOKEN_EXPIRATION", 7*24*time.Hour),
	}

	// The master key protects stored API keys. A missing key is fatal
	// outside development; the dev fallback is only for local runs.
	masterKey := os.Getenv("ENCRYPTION_KEY")
	if masterKey == "" {
		if os.Getenv("APP_ENV") == "production" {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be set in production")
		}
		logger.Log.Warn("ENCRYPTION_KEY not set, using development default")
		masterKey = devMasterKey
	}
	config.Vault = VaultConfig{MasterKey: masterKey}

	config.LLM = LLMConfig{
		ClientCacheTTL: getEnvAsDuration("CREDENTIAL_CACHE_TTL", 5*time.Minute),
	}

	config.WS = WSConfig{
		HeartbeatInterval: getEnvAsDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second),
	}

	return config, nil
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsDuration parses an environment variable as a duration
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		// Plain integers are treated as seconds
		if secs, convErr := strconv.Atoi(value); convErr == nil {
			return time.Duration(secs) * time.Second
		}
		logger.Log.WithField("key", key).Warn("Invalid duration value, using default")
		return defaultValue
	}
	return parsed
}
