package commands

import (
	"github.com/spf13/cobra"
)

var (
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ingestpipe",
	Short: "Resilient multi-source market data ETL pipeline",
	Long: `ingestpipe polls multiple cryptocurrency market data sources on
a shared schedule, normalizes whatever shape each source hands back,
and lands the result in a document store with resumable, idempotent
batches.

Features:
• Per-source token-bucket rate limiting with short-TTL cached fallback
• Schema drift detection with fuzzy field mapping and confidence tiers
• Resumable batch processing with checkpoint-then-ledger durability
• Natural-key upserts so re-running a batch never duplicates records
• Prometheus metrics and a JSON HTTP API for triggering and inspecting runs`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
