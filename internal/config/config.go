// Package config provides configuration management for Recall.
// It loads settings from environment variables with the RECALL_ prefix
// and provides sensible defaults for all configuration options.
//
// User settings (e.g., user_name) are persisted to the settings table in
// the database. LoadConfigFromDB reads from the database first and falls back
// to environment variables. SaveConfig writes user settings to the database.
package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the Recall application.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Extract  ExtractConfig
	Search   SearchConfig
	Security SecurityConfig
	Import   ImportConfig
	User     UserConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 6565)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	DataPath string // Path to data directory (default: ./data)

	// MemoryBackend selects the memory provider: fts (in-process SQLite
	// FTS5) or pgvector (PostgreSQL with the vector extension).
	MemoryBackend string

	// PostgresDSN is the connection string for the pgvector backend.
	PostgresDSN string
}

// ExtractConfig contains entity extraction configuration.
type ExtractConfig struct {
	Provider             string // Extraction provider: heuristic, ollama (default: heuristic)
	OllamaURL            string // Ollama API URL (default: http://localhost:11434)
	OllamaModel          string // Ollama model name for extraction (default: qwen2.5:7b)
	OllamaEmbeddingModel string // Ollama model name for embeddings (default: nomic-embed-text)
	TimeoutSeconds       int    // Extraction request timeout (default: 10)
}

// SearchConfig contains unified search tuning.
type SearchConfig struct {
	// SourceTimeoutSeconds bounds each source adapter's slice of a search
	// (default: 4).
	SourceTimeoutSeconds int

	// FuzzyAliasing enables attaching near-matching names as aliases
	// during entity resolution (default: true).
	FuzzyAliasing bool
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	APIToken  string  // API authentication token; empty disables auth
	RateLimit float64 // Requests per second per client (default: 25)
	RateBurst int     // Burst size for the rate limiter (default: 50)
}

// ImportConfig contains markdown import and inbox watcher settings.
type ImportConfig struct {
	InboxPath    string // Watched directory for markdown drops; empty disables the watcher
	InboxEnabled bool   // Enable the inbox watcher (default: false)
}

// UserConfig contains user-specific settings that persist across restarts.
// These settings are stored in the settings table in the database.
type UserConfig struct {
	// UserName is the display name for the user.
	// Env var: RECALL_USER_NAME
	// Database key: user_name
	UserName string
}

// SourceTimeout returns the per-source search timeout as a duration.
func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.Search.SourceTimeoutSeconds) * time.Second
}

// ExtractTimeout returns the extraction timeout as a duration.
func (c *Config) ExtractTimeout() time.Duration {
	return time.Duration(c.Extract.TimeoutSeconds) * time.Second
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the RECALL_ prefix.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	return cfg, nil
}

// LoadConfigFromDB loads configuration from both environment variables and
// the database. The database value takes precedence over the environment
// variable for user settings. Falls back to environment variable when no DB
// entry exists.
//
// Returns an error if db is nil.
func LoadConfigFromDB(db *sql.DB) (*Config, error) {
	if db == nil {
		return nil, errors.New("config: database connection is required")
	}

	cfg := buildBaseConfig()

	userName, err := getSetting(db, "user_name")
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("config: failed to load user_name from database: %w", err)
	}
	if userName != "" {
		cfg.User.UserName = userName
	}

	return cfg, nil
}

// SaveConfig persists user configuration settings to the settings table in
// the database. Uses upsert semantics so user settings survive restarts.
//
// Returns an error if db is nil.
func (c *Config) SaveConfig(db *sql.DB) error {
	if db == nil {
		return errors.New("config: database connection is required")
	}

	if err := setSetting(db, "user_name", c.User.UserName); err != nil {
		return fmt.Errorf("config: failed to save user_name: %w", err)
	}

	return nil
}

// getSetting retrieves a single setting value by key from the settings table.
// Returns an empty string and sql.ErrNoRows if the key does not exist.
func getSetting(db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

// setSetting writes a key-value pair to the settings table using upsert
// semantics.
func setSetting(db *sql.DB, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("RECALL_PORT", 6565),
			Host: getEnv("RECALL_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			DataPath:      getEnv("RECALL_DATA_PATH", "./data"),
			MemoryBackend: getEnv("RECALL_MEMORY_BACKEND", "fts"),
			PostgresDSN:   getEnv("RECALL_POSTGRES_DSN", ""),
		},
		Extract: ExtractConfig{
			Provider:             getEnv("RECALL_EXTRACT_PROVIDER", "heuristic"),
			OllamaURL:            getEnv("RECALL_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:          getEnv("RECALL_OLLAMA_MODEL", "qwen2.5:7b"),
			OllamaEmbeddingModel: getEnv("RECALL_EMBEDDING_MODEL", "nomic-embed-text"),
			TimeoutSeconds:       getEnvInt("RECALL_EXTRACT_TIMEOUT_SECONDS", 10),
		},
		Search: SearchConfig{
			SourceTimeoutSeconds: getEnvInt("RECALL_SOURCE_TIMEOUT_SECONDS", 4),
			FuzzyAliasing:        getEnvBool("RECALL_FUZZY_ALIASING", true),
		},
		Security: SecurityConfig{
			APIToken:  getEnv("RECALL_API_TOKEN", ""),
			RateLimit: float64(getEnvInt("RECALL_RATE_LIMIT", 25)),
			RateBurst: getEnvInt("RECALL_RATE_BURST", 50),
		},
		Import: ImportConfig{
			InboxPath:    getEnv("RECALL_INBOX_PATH", ""),
			InboxEnabled: getEnvBool("RECALL_INBOX_ENABLED", false),
		},
		User: UserConfig{
			UserName: getEnv("RECALL_USER_NAME", ""),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. If the environment variable exists but cannot be parsed as an
// integer, it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" as true and "false", "0", "no" as
// false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
