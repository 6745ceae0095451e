package commands

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/wonny/coarank/backend/internal/provider"
)

var (
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE:  showStats,
	}

	costCmd = &cobra.Command{
		Use:   "cost",
		Short: "Estimate the extraction cost of pending certificates",
		Long: `Scrapes the listing without downloading images, counts certificates
not stored yet and prices them with the configured provider. Known
provider defaults are listed for comparison.

Example:
  go run ./cmd/coarank cost --max-pages 5`,
		RunE: showCost,
	}

	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old ranking snapshots",
		RunE:  runCleanup,
	}
)

var (
	costMaxPages    int
	cleanupKeepLast int
)

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(costCmd)
	rootCmd.AddCommand(cleanupCmd)

	costCmd.Flags().IntVar(&costMaxPages, "max-pages", 0, "listing pages to scan (0 = all)")
	cleanupCmd.Flags().IntVar(&cleanupKeepLast, "keep-last", 0, "snapshots to keep (default RANKING_KEEP_LAST)")
}

func showStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := bootstrapQuiet(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.manager.GetStatistics(ctx)
	if err != nil {
		return fmt.Errorf("get statistics: %w", err)
	}

	t := newTable(cmd.OutOrStdout())
	t.SetTitle("Statistics")
	t.AppendRows([]table.Row{
		{"Certificates", st.TotalCertificates},
		{"Suppliers", st.Suppliers},
		{"Peptides", st.Peptides},
		{"Blends", st.Blends},
		{"With replicates", st.Replicates},
		{"Ranking snapshots", st.Snapshots},
		{"Ranking rows", st.RankingRows},
		{"Top supplier", st.TopSupplier},
		{"Provider", fmt.Sprintf("%s (%s)", st.Provider, st.Model)},
		{"Cost per image", fmt.Sprintf("$%.4f", st.CostPerImage)},
	})
	if st.LastComputedAt != nil {
		t.AppendRow(table.Row{"Last computed", st.LastComputedAt.Format("2006-01-02 15:04:05")})
	}
	t.Render()
	return nil
}

func showCost(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := bootstrapQuiet(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	est, err := a.manager.CountPending(ctx, costMaxPages)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}

	t := newTable(out)
	t.SetTitle("Pending extraction")
	t.AppendRows([]table.Row{
		{"Listed", est.Listed},
		{"Not stored yet", est.Pending},
		{"Provider", est.Provider},
		{"Cost per image", fmt.Sprintf("$%.4f", est.CostPerImage)},
		{"Estimated cost", fmt.Sprintf("$%.2f", est.Cost)},
	})
	t.Render()

	ct := newTable(out)
	ct.SetTitle("Provider defaults")
	ct.AppendHeader(table.Row{"Provider", "Model", "$/image", "Parallel", fmt.Sprintf("Cost for %d", est.Pending)})
	for _, c := range provider.KnownCosts() {
		ct.AppendRow(table.Row{
			c.Provider,
			c.Model,
			fmt.Sprintf("%.4f", c.CostPerImage),
			c.SupportsBatch,
			fmt.Sprintf("$%.2f", c.CostPerImage*float64(est.Pending)),
		})
	}
	ct.Render()
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := bootstrapQuiet(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	keep := cleanupKeepLast
	if keep == 0 {
		keep = a.cfg.Ranking.KeepLast
	}

	removed, err := a.manager.CleanupOldRankings(ctx, keep)
	if err != nil {
		return fmt.Errorf("cleanup rankings: %w", err)
	}
	printSuccess(cmd.OutOrStdout(), "Removed %d ranking snapshots, kept the last %d", removed, keep)
	return nil
}
