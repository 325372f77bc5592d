// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.chatgraph/config.yaml, then the current directory)
//  3. Default values
//
// Sensitive fields are masked in MarshalJSON/String; validation happens
// immediately after loading so a bad configuration fails at startup, not
// mid-request.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidProvider indicates the model provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidMaxTurns indicates the per-request model call bound is out of range.
	ErrInvalidMaxTurns = errors.New("invalid max turns")

	// ErrInvalidStorage indicates the storage backend is not supported.
	ErrInvalidStorage = errors.New("invalid storage backend")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidCacheSize indicates the compiled-graph cache size is out of range.
	ErrInvalidCacheSize = errors.New("invalid graph cache size")
)

// Model provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
)

// Storage backend identifiers used in Config.Storage.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config stores application configuration.
// Sensitive fields are explicitly masked in MarshalJSON; when adding new
// secrets, update that method.
type Config struct {
	// Model provider configuration
	Provider    string  `mapstructure:"provider" json:"provider"`
	ModelName   string  `mapstructure:"model_name" json:"model_name"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// MaxTurns bounds the number of model calls a single request may make
	// before the turn is aborted.
	MaxTurns int `mapstructure:"max_turns" json:"max_turns"`

	// GraphCacheSize bounds the compiled-graph cache.
	GraphCacheSize int `mapstructure:"graph_cache_size" json:"graph_cache_size"`

	// Storage selects the conversation store backend: "postgres" or
	// "memory" (dev/test only; state is lost on restart).
	Storage string `mapstructure:"storage" json:"storage"`

	// PostgreSQL connection (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Tool backends
	SearchBaseURL  string `mapstructure:"search_base_url" json:"search_base_url"`   // SearXNG instance
	WeatherBaseURL string `mapstructure:"weather_base_url" json:"weather_base_url"` // Open-Meteo compatible API
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".chatgraph")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is not an error; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, when set, overrides the individual postgres_* values.
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		if err := cfg.applyDatabaseURL(raw); err != nil {
			return nil, fmt.Errorf("applying DATABASE_URL: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)
	viper.SetDefault("max_turns", 8)
	viper.SetDefault("graph_cache_size", 10)

	viper.SetDefault("storage", StoragePostgres)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "chatgraph")
	viper.SetDefault("postgres_password", "chatgraph_dev_password")
	viper.SetDefault("postgres_db_name", "chatgraph")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("search_base_url", "http://localhost:8888")
	viper.SetDefault("weather_base_url", "https://api.open-meteo.com")
}

// bindEnvVariables binds environment variable overrides explicitly.
// GEMINI_API_KEY is read directly at provider construction, not via viper;
// its presence is checked in Validate based on the selected provider.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "CHATGRAPH_PROVIDER")
	mustBind("model_name", "CHATGRAPH_MODEL_NAME")
	mustBind("max_turns", "CHATGRAPH_MAX_TURNS")
	mustBind("storage", "CHATGRAPH_STORAGE")
	mustBind("search_base_url", "CHATGRAPH_SEARCH_BASE_URL")
	mustBind("weather_base_url", "CHATGRAPH_WEATHER_BASE_URL")
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of eight
// characters or fewer are fully masked; longer ones keep the first and
// last two characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking. Currently masked: PostgresPassword.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
