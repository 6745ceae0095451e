package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the latest rankings to CSV or Excel",
	Long: `Writes the latest ranking snapshot to a file.

Example:
  go run ./cmd/coarank export
  go run ./cmd/coarank export --format xlsx -o rankings.xlsx`,
	RunE: runExport,
}

var (
	exportFormat string
	exportOutput string
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportFormat, "format", "", "csv or xlsx (default from --output extension, else csv)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default supplier_rankings_<date>.<format>)")
}

// exportTarget resolves the format and file name from the flags.
func exportTarget(format, output string, now time.Time) (string, string, error) {
	format = strings.ToLower(format)
	if format == "" {
		switch strings.ToLower(filepath.Ext(output)) {
		case ".xlsx":
			format = "xlsx"
		default:
			format = "csv"
		}
	}
	if format != "csv" && format != "xlsx" {
		return "", "", fmt.Errorf("unsupported format %q (csv or xlsx)", format)
	}
	if output == "" {
		output = fmt.Sprintf("supplier_rankings_%s.%s", now.Format("20060102"), format)
	}
	return format, output, nil
}

func runExport(cmd *cobra.Command, args []string) error {
	format, output, err := exportTarget(exportFormat, exportOutput, time.Now())
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := bootstrapQuiet(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	switch format {
	case "xlsx":
		err = a.manager.ExportRankingsToXLSX(ctx, output)
	default:
		err = a.manager.ExportRankingsToCSV(ctx, output)
	}
	if err != nil {
		return fmt.Errorf("export rankings: %w", err)
	}

	printSuccess(cmd.OutOrStdout(), "Rankings written to %s", output)
	return nil
}
