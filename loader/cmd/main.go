package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"productrag/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed product documents into PostgreSQL",
		Long: `Ingest pre-chunked product documents: every chunk is embedded and stored
with the product metadata in a pgvector table.

Configuration is read from the environment, after loading the optional .env
file given by --env-file (default: .env in the current directory).

Environment variables:
  EMBEDDING_PROVIDER           openai or ollama (default: openai)
  EMBEDDING_MODEL              Model identifier (default: text-embedding-3-small)
  EMBEDDING_DIM                Vector dimension (default: derived from the model)
  EMBEDDING_BATCH_SIZE         Texts per request (default: 16)
  OPEN_AI_API_KEY              OpenAI API key
  PG_URI                       Connection string (default: built from PG_HOST, PG_PORT, PG_USER, PG_PASS, PG_DB_NAME)
  EMBEDDINGS_TABLE             Target table (default: product_embeddings)
  PROCESSED_DIR                Source directory (default: /data/processed)
  CONTINUE_ON_ERROR            Keep going after a failed document (default: true)
  LOG_LEVEL                    DEBUG, INFO, WARN, ERROR (default: INFO)
  LOG_FORMAT                   text or json (default: text)`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")

	cmd.AddCommand(runCmd(&envFile))
	cmd.AddCommand(fileCmd(&envFile))
	cmd.AddCommand(watchCmd(&envFile))

	return cmd
}

// loadConfig loads configuration from .env file and environment variables.
func loadConfig(envFile string) (config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
