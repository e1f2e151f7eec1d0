// Package config provides pipeline configuration with multi-source priority.
//
// Sources, highest to lowest:
//  1. Environment variables
//  2. Config file (~/.docpipe/config.yaml or ./config.yaml)
//  3. Defaults
//
// Validation is fail-fast: a missing credential or malformed setting stops the
// run before any network call is made.
//
// Security: the Postgres password is masked in MarshalJSON/String; the Gemini
// API key never enters the Config struct at all (read from the environment by
// the embedding client).
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

	// ErrMissingAPIKey indicates the embedding provider credential is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrMissingBaseURL indicates no source site was configured.
	ErrMissingBaseURL = errors.New("missing base URL")

	// ErrInvalidBaseURL indicates the source site URL is malformed.
	ErrInvalidBaseURL = errors.New("invalid base URL")

	// ErrInvalidCollection indicates the collection name is unusable.
	ErrInvalidCollection = errors.New("invalid collection name")

	// ErrInvalidChunking indicates chunk size or overlap is out of range.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidBatchSize indicates the embedding batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid embedding batch size")

	// ErrInvalidTopK indicates the search depth is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidEmbedderModel indicates the embedder model name is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

const (
	// DefaultEmbedderModel is the Gemini embedding model.
	// gemini-embedding-001 outputs 3072 dimensions by default but supports
	// truncation via OutputDimensionality; the index schema uses 768.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultCollection is the vector collection written when no override
	// is configured.
	DefaultCollection = "doc_chunks"

	// DefaultChunkMaxTokens bounds a chunk's token count before overlap.
	DefaultChunkMaxTokens = 512

	// DefaultChunkOverlapTokens is the shared context between consecutive
	// windows of an oversized section.
	DefaultChunkOverlapTokens = 50

	// DefaultEmbedBatchSize is the provider's maximum texts per call.
	DefaultEmbedBatchSize = 96
)

// Config stores pipeline configuration.
// SECURITY: sensitive fields are masked in MarshalJSON; keep it updated when
// adding credentials.
type Config struct {
	// Source corpus
	BaseURL string `mapstructure:"base_url" json:"base_url"`

	// Chunking
	ChunkMaxTokens     int `mapstructure:"chunk_max_tokens" json:"chunk_max_tokens"`
	ChunkOverlapTokens int `mapstructure:"chunk_overlap_tokens" json:"chunk_overlap_tokens"`

	// Embedding
	EmbedderModel  string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedBatchSize int    `mapstructure:"embed_batch_size" json:"embed_batch_size"`
	EmbedRPM       int    `mapstructure:"embed_rpm" json:"embed_rpm"`

	// Index
	Collection string `mapstructure:"collection" json:"collection"`

	// Retrieval
	SearchTopK int `mapstructure:"search_top_k" json:"search_top_k"`

	// Fetching
	FetchTimeoutMs int `mapstructure:"fetch_timeout_ms" json:"fetch_timeout_ms"`

	// Storage (PostgreSQL + pgvector)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".docpipe")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults plus env cover everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL wins over individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("chunk_max_tokens", DefaultChunkMaxTokens)
	v.SetDefault("chunk_overlap_tokens", DefaultChunkOverlapTokens)

	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embed_batch_size", DefaultEmbedBatchSize)
	v.SetDefault("embed_rpm", 90)

	v.SetDefault("collection", DefaultCollection)
	v.SetDefault("search_top_k", 3)
	v.SetDefault("fetch_timeout_ms", 30000)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "docpipe")
	v.SetDefault("postgres_password", "docpipe_dev_password")
	v.SetDefault("postgres_db_name", "docpipe")
	v.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY is intentionally absent: the embedding client reads it from
// the environment directly, and Validate checks its presence.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("base_url", "DOCPIPE_BASE_URL")
	mustBind("collection", "DOCPIPE_COLLECTION")
	mustBind("embedder_model", "DOCPIPE_EMBEDDER_MODEL")
	mustBind("chunk_max_tokens", "DOCPIPE_CHUNK_MAX_TOKENS")
	mustBind("chunk_overlap_tokens", "DOCPIPE_CHUNK_OVERLAP_TOKENS")
	mustBind("search_top_k", "DOCPIPE_SEARCH_TOP_K")
}

// maskedValue replaces secrets in serialized config. Full-width blocks avoid
// accidental substring matches against real secret material.
const maskedValue = "████████"

// maskSecret masks a secret for logging. Short secrets are fully masked;
// longer ones keep two characters on each end for debugging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive fields masked.
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

// String implements Stringer so printing a Config never leaks secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
