package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Exchanges      map[string]ExchangeConfig `json:"exchanges"`
	DatabaseConfig DatabaseConfig            `json:"database"`
	RedisConfig    RedisConfig               `json:"redis"`
	VaultConfig    VaultConfig               `json:"vault"`
	ServerConfig   ServerConfig              `json:"server"`
	SyncConfig     SyncConfig                `json:"sync"`
	LoggingConfig  LoggingConfig             `json:"logging"`
}

// ExchangeConfig holds per-exchange connection settings. Key material here
// is a development fallback; production deployments keep credentials in
// Vault per user.
type ExchangeConfig struct {
	Key        string `json:"key"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
	BaseURL    string `json:"base_url"`
	Simulation bool   `json:"simulation"` // Synthesize orders and withdrawals instead of submitting
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for the concurrency gate
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path prefix for API keys
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins
	ReadTimeout     int    `json:"read_timeout"`    // Seconds
	WriteTimeout    int    `json:"write_timeout"`   // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// SyncConfig holds the scheduler intervals
type SyncConfig struct {
	TickersInterval     time.Duration `json:"tickers_interval"`
	FeesInterval        time.Duration `json:"fees_interval"`
	WithdrawalsInterval time.Duration `json:"withdrawals_interval"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // Output as JSON
}

// Load reads config.json from the working directory and applies environment
// overrides. A missing file is fine (env and defaults apply); an unreadable
// or malformed file is an error.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Note: exchange API keys are NOT read from environment. Credentials are
// per-user and resolved through Vault; the config file keys are a local
// development convenience only.
func applyEnvOverrides(cfg *Config) {
	if cfg.Exchanges == nil {
		cfg.Exchanges = map[string]ExchangeConfig{}
	}

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultString(cfg.DatabaseConfig.User, "postgres"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultString(cfg.DatabaseConfig.Database, "exchange_hub"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", defaultString(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", strconv.FormatBool(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", strconv.FormatBool(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", defaultString(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultString(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultString(cfg.VaultConfig.SecretPath, "exchange-hub/api-keys"))
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", "false") == "true"

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", defaultString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", defaultString(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", defaultInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", defaultInt(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Sync intervals
	cfg.SyncConfig.TickersInterval = getEnvDurationOrDefault("SYNC_TICKERS_INTERVAL", defaultDuration(cfg.SyncConfig.TickersInterval, time.Hour))
	cfg.SyncConfig.FeesInterval = getEnvDurationOrDefault("SYNC_FEES_INTERVAL", defaultDuration(cfg.SyncConfig.FeesInterval, 6*time.Hour))
	cfg.SyncConfig.WithdrawalsInterval = getEnvDurationOrDefault("SYNC_WITHDRAWALS_INTERVAL", defaultDuration(cfg.SyncConfig.WithdrawalsInterval, 15*time.Minute))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", defaultString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func defaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func defaultDuration(value, fallback time.Duration) time.Duration {
	if value == 0 {
		return fallback
	}
	return value
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		Exchanges: map[string]ExchangeConfig{
			"bitmart": {
				Key:        "your_api_key_here",
				Secret:     "your_secret_key_here",
				Passphrase: "your_memo_here",
				Simulation: true,
			},
			"bingx": {
				Key:        "your_api_key_here",
				Secret:     "your_secret_key_here",
				Simulation: true,
			},
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "exchange_hub",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled:  true,
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		ServerConfig: ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			AllowedOrigins: "*",
		},
		SyncConfig: SyncConfig{
			TickersInterval:     time.Hour,
			FeesInterval:        6 * time.Hour,
			WithdrawalsInterval: 15 * time.Minute,
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			Output:     "stdout",
			JSONFormat: true,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
