package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ingestpipe/ingestpipe/internal/store"
	"github.com/ingestpipe/ingestpipe/pkg/config"
	"github.com/ingestpipe/ingestpipe/pkg/logger"
)

// indexesCmd groups document-store index maintenance subcommands.
var indexesCmd = &cobra.Command{
	Use:   "indexes",
	Short: "Manage document store indexes",
}

var indexesEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create the pipeline's required indexes if they don't already exist",
	Long: `Ensure connects to the document store and creates the unique
natural-key indexes on the raw and normalized collections, plus the
secondary indexes the HTTP API and checkpoint recovery rely on. Index
creation is idempotent by name, so this is safe to run repeatedly.`,
	RunE: runIndexesEnsure,
}

func init() {
	rootCmd.AddCommand(indexesCmd)
	indexesCmd.AddCommand(indexesEnsureCmd)
}

func runIndexesEnsure(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Printf("Note: .env file not loaded: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, _ := logger.New(&cfg.Logging)

	st, err := store.New(&cfg.Mongo, log)
	if err != nil {
		return fmt.Errorf("failed to connect to document store: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		st.Close(ctx)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := st.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}

	log.Info("indexes ensured")
	return nil
}
