package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.Provider != ProviderGemini {
		return fmt.Errorf("%w: %q is not supported, must be %q",
			ErrInvalidProvider, c.Provider, ProviderGemini)
	}

	// Required for all model operations with the gemini provider.
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range per the Gemini API: 0.0 (deterministic) to 2.0.
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	// MaxTokens range: 1 to the Gemini 2.5 max context window.
	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// MaxTurns bounds model calls per request; runaway tool loops burn
	// quota fast, so the ceiling is deliberately low.
	if c.MaxTurns < 1 || c.MaxTurns > 64 {
		return fmt.Errorf("%w: must be between 1 and 64, got %d", ErrInvalidMaxTurns, c.MaxTurns)
	}

	if c.GraphCacheSize < 1 || c.GraphCacheSize > 1000 {
		return fmt.Errorf("%w: must be between 1 and 1000, got %d", ErrInvalidCacheSize, c.GraphCacheSize)
	}

	if c.Storage != StoragePostgres && c.Storage != StorageMemory {
		return fmt.Errorf("%w: %q is not supported, must be %q or %q",
			ErrInvalidStorage, c.Storage, StoragePostgres, StorageMemory)
	}

	// The memory store has no connection to validate.
	if c.Storage == StorageMemory {
		return nil
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "chatgraph_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Modern SSL modes only; allow/prefer are deprecated (MITM vulnerable).
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
