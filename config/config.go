// Package config loads the ingestion settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every recognized option.
// Nested structs use underscore-joined names (e.g. EMBEDDING_MODEL).
type Config struct {
	// OpenAIKey is the embedding service credential.
	OpenAIKey string `envconfig:"OPEN_AI_API_KEY"`

	Embedding EmbeddingConfig `envconfig:"EMBEDDING"`
	Postgres  PostgresConfig  `envconfig:"PG"`

	// Table is the target table of embedding records.
	Table string `envconfig:"EMBEDDINGS_TABLE" default:"product_embeddings"`

	// SourceDir is scanned for document files.
	SourceDir   string        `envconfig:"PROCESSED_DIR" default:"/data/processed"`
	DocumentExt string        `envconfig:"DOCUMENT_EXT" default:".json"`
	ArchiveDir  string        `envconfig:"ARCHIVE_DIR"`
	BadDir      string        `envconfig:"BAD_DIR"`
	StableAfter time.Duration `envconfig:"WATCH_STABLE_AFTER" default:"5s"`

	// ContinueOnError keeps a run going past failing documents.
	ContinueOnError bool `envconfig:"CONTINUE_ON_ERROR" default:"true"`

	ServerAddr string `envconfig:"SERVER_ADDR" default:":8080"`
	// ServerWatch makes the HTTP server also watch the source directory.
	ServerWatch bool `envconfig:"SERVER_WATCH" default:"false"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider       string        `envconfig:"PROVIDER" default:"openai"`
	Model          string        `envconfig:"MODEL" default:"text-embedding-3-small"`
	Dim            int           `envconfig:"DIM"`
	BaseURL        string        `envconfig:"BASE_URL"`
	Timeout        time.Duration `envconfig:"TIMEOUT" default:"60s"`
	BatchSize      int           `envconfig:"BATCH_SIZE" default:"16"`
	MaxBatchTokens int           `envconfig:"MAX_BATCH_TOKENS" default:"8000"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3"`
	InitialDelay   time.Duration `envconfig:"INITIAL_DELAY" default:"1s"`
	BackoffFactor  float64       `envconfig:"BACKOFF_FACTOR" default:"2.0"`
}

// PostgresConfig holds the connection settings.
// URI wins; otherwise the discrete PG_* variables are assembled.
type PostgresConfig struct {
	URI    string `envconfig:"URI"`
	Host   string `envconfig:"HOST" default:"localhost"`
	Port   int    `envconfig:"PORT" default:"5432"`
	User   string `envconfig:"USER" default:"postgres"`
	Pass   string `envconfig:"PASS"`
	DBName string `envconfig:"DB_NAME" default:"postgres"`
}

// ConnString returns the database connection string.
func (p PostgresConfig) ConnString() string {
	if p.URI != "" {
		return p.URI
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable", p.Host, p.Port, p.User, p.Pass, p.DBName)
}

// knownDimensions maps embedding models to their vector length.
var knownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
}

// ErrUnknownDimension is returned for a model with no known dimension and no EMBEDDING_DIM.
var ErrUnknownDimension = errors.New("unknown embedding dimension")

// Dimension resolves the vector length D of the configured model.
func (e EmbeddingConfig) Dimension() (int, error) {
	if e.Dim > 0 {
		return e.Dim, nil
	}
	model := e.Model
	// ollama tags such as nomic-embed-text:latest
	if i := strings.IndexByte(model, ':'); i > 0 {
		model = model[:i]
	}
	if d, ok := knownDimensions[model]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("%w for model %q: set EMBEDDING_DIM", ErrUnknownDimension, e.Model)
}

// Validate checks the settings that have no sensible default.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.Embedding.Dimension(); err != nil {
		errs = append(errs, err)
	}
	switch c.Embedding.Provider {
	case "openai":
		if c.OpenAIKey == "" {
			errs = append(errs, errors.New("OPEN_AI_API_KEY is required for the openai provider"))
		}
	case "ollama":
	default:
		errs = append(errs, fmt.Errorf("unsupported EMBEDDING_PROVIDER %q", c.Embedding.Provider))
	}
	if c.Embedding.BatchSize < 1 {
		errs = append(errs, errors.New("EMBEDDING_BATCH_SIZE must be at least 1"))
	}
	if c.Embedding.MaxRetries < 0 {
		errs = append(errs, errors.New("EMBEDDING_MAX_RETRIES must not be negative"))
	}
	if c.Table == "" {
		errs = append(errs, errors.New("EMBEDDINGS_TABLE must not be empty"))
	}
	return errors.Join(errs...)
}

// LoadDotEnv loads a .env file. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// FromEnv parses the process environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	return cfg, nil
}

// Load reads the optional .env file, then the environment, and validates the result.
func Load(envPath string) (Config, error) {
	if err := LoadDotEnv(envPath); err != nil {
		return Config{}, fmt.Errorf("load %s: %w", envPath, err)
	}
	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
