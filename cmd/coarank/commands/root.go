package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose   bool
	logFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "coarank",
	Short: "Peptide CoA ingestion and supplier reliability rankings",
	Long: `coarank CLI

Scrapes public certificates of analysis, extracts their values with a
vision model, and ranks peptide suppliers by a weighted reliability score.

Usage:
  go run ./cmd/coarank [command]

Examples:
  go run ./cmd/coarank update --max-pages 3
  go run ./cmd/coarank rankings --top 20
  go run ./cmd/coarank supplier "Mandy Bio"
  go run ./cmd/coarank export --format xlsx -o rankings.xlsx
  go run ./cmd/coarank api`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logs)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override LOG_FORMAT (json|console)")
}
