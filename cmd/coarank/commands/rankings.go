package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/internal/normalize"
)

var (
	rankingsCmd = &cobra.Command{
		Use:   "rankings",
		Short: "Show the latest supplier rankings",
		RunE:  showRankings,
	}

	supplierCmd = &cobra.Command{
		Use:   "supplier [name]",
		Short: "Show a supplier's certificates and score history",
		Args:  cobra.ExactArgs(1),
		RunE:  showSupplier,
	}

	peptideCmd = &cobra.Command{
		Use:   "peptide [name]",
		Short: "Rank suppliers on one peptide only",
		Long: `Scores suppliers using only their certificates for one peptide.

Example:
  go run ./cmd/coarank peptide BPC-157
  go run ./cmd/coarank peptide "Tirzepatide" --quantity 10 --unit mg`,
		Args: cobra.ExactArgs(1),
		RunE: showPeptide,
	}

	recalcCmd = &cobra.Command{
		Use:   "recalc",
		Short: "Recompute rankings from stored certificates",
		RunE:  runRecalc,
	}
)

var (
	rankingsTop     int
	supplierHistory int
	peptideQuantity float64
	peptideUnit     string
)

func init() {
	rootCmd.AddCommand(rankingsCmd)
	rootCmd.AddCommand(supplierCmd)
	rootCmd.AddCommand(peptideCmd)
	rootCmd.AddCommand(recalcCmd)

	rankingsCmd.Flags().IntVar(&rankingsTop, "top", 0, "show only the top N suppliers (0 = all)")
	supplierCmd.Flags().IntVar(&supplierHistory, "history", 10, "snapshots of score history to show")
	peptideCmd.Flags().Float64Var(&peptideQuantity, "quantity", 0, "only count certificates with this nominal quantity")
	peptideCmd.Flags().StringVar(&peptideUnit, "unit", "mg", "unit of --quantity")
}

func showRankings(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := bootstrapQuiet(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.manager.GetLatestRankings(ctx, rankingsTop)
	if err != nil {
		return fmt.Errorf("get rankings: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		printWarning(out, "No rankings yet; run `coarank update` or `coarank recalc`")
		return nil
	}
	fmt.Fprintf(out, "Computed at %s\n", rows[0].ComputedAt.Format("2006-01-02 15:04:05"))
	printRankings(out, rows)
	return nil
}

func showSupplier(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := bootstrapQuiet(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	name := args[0]

	certs, err := a.manager.GetSupplierCertificates(ctx, name)
	if err != nil {
		return fmt.Errorf("get certificates: %w", err)
	}
	if len(certs) == 0 {
		printWarning(out, "No certificates for %q", name)
		printDidYouMean(out, normalize.KindSupplier, name)
		return nil
	}
	printCertificates(out, certs)

	history, err := a.manager.GetSupplierHistory(ctx, name, supplierHistory)
	if err != nil {
		return fmt.Errorf("get history: %w", err)
	}
	if len(history) == 0 {
		return nil
	}
	t := newTable(out)
	t.SetTitle("Score history")
	t.AppendHeader(table.Row{"Computed", "Rank", "Score", "Label", "CoAs"})
	for _, h := range history {
		t.AppendRow(table.Row{h.ComputedAt.Format("2006-01-02 15:04"), h.Rank, fmt.Sprintf("%.1f", h.TotalScore), labelText(h.Label), h.TotalCertificates})
	}
	t.Render()
	return nil
}

func showPeptide(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := bootstrapQuiet(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	peptide := normalize.Peptide(args[0])
	var filter *contracts.QuantityFilter
	if peptideQuantity > 0 {
		filter = &contracts.QuantityFilter{Quantity: peptideQuantity, Unit: peptideUnit}
	}

	out := cmd.OutOrStdout()
	rows, err := a.manager.BestSupplierForPeptide(ctx, peptide, filter)
	if err != nil {
		printDidYouMean(out, normalize.KindPeptide, args[0])
		return fmt.Errorf("rank suppliers for %s: %w", peptide, err)
	}
	fmt.Fprintf(out, "Suppliers ranked on %s\n", peptide)
	printRankings(out, rows)
	return nil
}

func runRecalc(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := bootstrapQuiet(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.manager.RecalculateRankings(ctx)
	if err != nil {
		return fmt.Errorf("recalculate: %w", err)
	}
	out := cmd.OutOrStdout()
	printSuccess(out, "Snapshot %s: %d suppliers ranked", snap.ID, len(snap.Rankings))
	if len(snap.Rankings) > 0 {
		top := snap.Rankings
		if len(top) > 10 {
			top = top[:10]
		}
		printRankings(out, top)
	}
	return nil
}

// printDidYouMean lists close canonical names for a lookup that missed.
func printDidYouMean(w io.Writer, kind normalize.Kind, partial string) {
	suggestions, err := normalize.Suggest(kind, partial, 3)
	if err != nil || len(suggestions) == 0 {
		return
	}
	names := make([]string, len(suggestions))
	for i, s := range suggestions {
		names[i] = s.Name
	}
	fmt.Fprintf(w, "Did you mean: %s\n", strings.Join(names, ", "))
}
