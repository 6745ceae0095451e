package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	blendsCmd = &cobra.Command{
		Use:   "blends",
		Short: "List blend certificates by protocol or component",
		Long: `Lists blend certificates with their per-component quantities.

Example:
  go run ./cmd/coarank blends --protocol GLOW
  go run ./cmd/coarank blends --peptide BPC-157`,
		RunE: showBlends,
	}

	replicatesCmd = &cobra.Command{
		Use:   "replicates",
		Short: "List certificates with widely varying replicate readings",
		RunE:  showReplicates,
	}

	renormalizeCmd = &cobra.Command{
		Use:   "renormalize",
		Short: "Reapply supplier and peptide aliases to stored names",
		Long: `Recomputes normalized names from the raw extracted names after an
alias table change, then rescores if anything changed.`,
		RunE: runRenormalize,
	}
)

var (
	blendsProtocol string
	blendsPeptide  string
	replicatesCV   float64
)

func init() {
	rootCmd.AddCommand(blendsCmd)
	rootCmd.AddCommand(replicatesCmd)
	rootCmd.AddCommand(renormalizeCmd)

	blendsCmd.Flags().StringVar(&blendsProtocol, "protocol", "", "protocol name (GLOW, KLOW, KLOW80, BPC+TB)")
	blendsCmd.Flags().StringVar(&blendsPeptide, "peptide", "", "component peptide")
	replicatesCmd.Flags().Float64Var(&replicatesCV, "min-cv", 5, "coefficient of variation threshold in percent")
}

func showBlends(cmd *cobra.Command, args []string) error {
	if blendsProtocol == "" && blendsPeptide == "" {
		return fmt.Errorf("one of --protocol or --peptide is required")
	}

	ctx := context.Background()
	a, err := bootstrapQuiet(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	certs, err := a.manager.GetBlends(ctx, blendsProtocol, blendsPeptide)
	if err != nil {
		return fmt.Errorf("get blends: %w", err)
	}

	t := newTable(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Task", "Supplier", "Protocol", "Components", "Test Date"})
	for _, c := range certs {
		parts := make([]string, 0, len(c.BlendComponents))
		for _, bc := range c.BlendComponents {
			part := bc.Peptide
			if bc.Quantity != nil {
				part += " " + strconv.FormatFloat(*bc.Quantity, 'f', -1, 64) + bc.Unit
			}
			if bc.ExpectedNominal != nil {
				part += fmt.Sprintf(" (exp %s)", strconv.FormatFloat(*bc.ExpectedNominal, 'f', 2, 64))
			}
			parts = append(parts, part)
		}
		t.AppendRow(table.Row{c.TaskNumber, c.SupplierName, c.ProtocolName, strings.Join(parts, ", "), c.TestDate.Format("2006-01-02")})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(certs)})
	t.Render()
	return nil
}

func showReplicates(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := bootstrapQuiet(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	certs, err := a.manager.GetVariableReplicates(ctx, replicatesCV)
	if err != nil {
		return fmt.Errorf("get replicates: %w", err)
	}

	t := newTable(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Task", "Supplier", "Peptide", "Parameter", "n", "Mean", "Std Dev", "CV %"})
	for _, c := range certs {
		for _, st := range c.ReplicateStatistics {
			if st.CV < replicatesCV {
				continue
			}
			t.AppendRow(table.Row{
				c.TaskNumber, c.SupplierName, c.PeptideName, st.Parameter, st.Count,
				fmt.Sprintf("%.3f", st.Mean), fmt.Sprintf("%.3f", st.StdDev), fmt.Sprintf("%.2f", st.CV),
			})
		}
	}
	t.Render()
	return nil
}

func runRenormalize(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := bootstrapQuiet(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	changed, snap, err := a.manager.RenormalizeNames(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if snap == nil {
		printSuccess(out, "All stored names already match the alias tables")
		return nil
	}
	printSuccess(out, "Renamed %d certificates; snapshot %s ranks %d suppliers", changed, snap.ID, len(snap.Rankings))
	return nil
}
