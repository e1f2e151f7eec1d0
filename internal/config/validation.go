package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"slices"
)

// collectionNameRe restricts collection names to what can be safely used as a
// PostgreSQL identifier without quoting gymnastics.
var collectionNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Validate validates configuration values.
// Returns sentinel errors checkable with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Embedding provider credential. Required before any network call so a
	// misconfigured run fails in milliseconds, not after crawling a site.
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	if err := c.validateBaseURL(); err != nil {
		return err
	}

	if !collectionNameRe.MatchString(c.Collection) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidCollection, c.Collection, collectionNameRe)
	}

	if c.ChunkMaxTokens < 1 || c.ChunkMaxTokens > 8192 {
		return fmt.Errorf("%w: chunk_max_tokens must be between 1 and 8192, got %d",
			ErrInvalidChunking, c.ChunkMaxTokens)
	}
	if c.ChunkOverlapTokens < 0 || c.ChunkOverlapTokens >= c.ChunkMaxTokens {
		return fmt.Errorf("%w: chunk_overlap_tokens must be in [0, chunk_max_tokens), got %d",
			ErrInvalidChunking, c.ChunkOverlapTokens)
	}

	if c.EmbedBatchSize < 1 || c.EmbedBatchSize > DefaultEmbedBatchSize {
		return fmt.Errorf("%w: embed_batch_size must be between 1 and %d, got %d",
			ErrInvalidBatchSize, DefaultEmbedBatchSize, c.EmbedBatchSize)
	}

	if c.SearchTopK < 1 || c.SearchTopK > 20 {
		return fmt.Errorf("%w: search_top_k must be between 1 and 20, got %d",
			ErrInvalidTopK, c.SearchTopK)
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

	if c.PostgresPassword == "docpipe_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"hint", "set postgres_password or DATABASE_URL for production")
	}

	// Deprecated allow/prefer modes are excluded (MITM-susceptible).
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// validateBaseURL checks the source site URL. Ingest cannot run without one;
// the validator and query commands never touch it, so emptiness is reported
// by the ingest command, not here — but a present-and-malformed value is
// always an error.
func (c *Config) validateBaseURL() error {
	if c.BaseURL == "" {
		return nil
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q must start with http:// or https://", ErrInvalidBaseURL, c.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %q has no host", ErrInvalidBaseURL, c.BaseURL)
	}
	return nil
}

// RequireBaseURL is the ingest-time check for the source site.
func (c *Config) RequireBaseURL() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: set base_url in config.yaml or DOCPIPE_BASE_URL", ErrMissingBaseURL)
	}
	return nil
}
