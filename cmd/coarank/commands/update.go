package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/coarank/backend/internal/manager"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Scrape, extract and rescore",
	Long: `Runs the full pipeline once:

  1. scrape the public listing
  2. download each certificate image and skip ones already stored
  3. extract values with the configured vision provider
  4. persist certificates and recompute the supplier rankings

Ctrl+C stops extraction; results extracted so far are still scored.

Example:
  go run ./cmd/coarank update --max-pages 2 --max-certificates 20`,
	RunE: runUpdate,
}

var (
	updateMaxPages        int
	updateMaxCertificates int
	updateNoProgress      bool
)

func init() {
	rootCmd.AddCommand(updateCmd)

	updateCmd.Flags().IntVar(&updateMaxPages, "max-pages", 0, "listing pages to scrape (0 = all)")
	updateCmd.Flags().IntVar(&updateMaxCertificates, "max-certificates", 0, "new certificates to extract (0 = no limit)")
	updateCmd.Flags().BoolVar(&updateNoProgress, "no-progress", false, "disable the progress bar")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	if updateMaxPages < 0 || updateMaxCertificates < 0 {
		return fmt.Errorf("limits must not be negative")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrapQuiet(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Provider: %s (%s), $%.4f per image, concurrency %d\n",
		a.provider.Name(), a.provider.Model(), a.provider.CostPerImage(), a.manager.Concurrency())

	opts := manager.UpdateOptions{
		MaxPages:        updateMaxPages,
		MaxCertificates: updateMaxCertificates,
	}
	if !updateNoProgress {
		opts.Progress = newStageBar(cmd.ErrOrStderr()).Update
	}

	sum, runErr := a.manager.RunFullUpdate(ctx, opts)
	if sum != nil {
		fmt.Fprintln(out)
		printSummary(out, sum)
	}
	if runErr != nil {
		return fmt.Errorf("full update: %w", runErr)
	}
	if sum.Cancelled {
		printWarning(out, "Run cancelled; partial results were scored")
		return nil
	}
	printSuccess(out, "Update complete")
	return nil
}
