package commands

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/schollz/progressbar/v3"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/internal/manager"
)

// ═══════════════════════════════════════════════════════════
// Common output helpers shared by every command
// ═══════════════════════════════════════════════════════════

// newTable returns a rounded table writer rendering to w.
func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

// printRankings renders a ranking table.
func printRankings(w io.Writer, rows []contracts.SupplierRanking) {
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Supplier", "Score", "Label", "Vol", "Qual", "Acc", "Cons", "Rec", "Endo", "Compl", "CoAs", "90d", "Avg Purity", "Last"})
	for _, r := range rows {
		t.AppendRow(table.Row{
			r.Rank,
			r.SupplierName,
			fmt.Sprintf("%.1f", r.TotalScore),
			labelText(r.Label),
			fmt.Sprintf("%.1f", r.Components.Volume),
			fmt.Sprintf("%.1f", r.Components.Quality),
			fmt.Sprintf("%.1f", r.Components.Accuracy),
			fmt.Sprintf("%.1f", r.Components.Consistency),
			fmt.Sprintf("%.1f", r.Components.Recency),
			fmt.Sprintf("%.1f", r.Components.Endotoxin),
			fmt.Sprintf("%.1f", r.Components.Completeness),
			r.TotalCertificates,
			r.Certificates90d,
			optPercent(r.AvgPurity),
			optDays(r.DaysSinceLast),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 14, Align: text.AlignRight},
	})
	t.Render()
}

// printCertificates renders a supplier's certificates.
func printCertificates(w io.Writer, certs []*contracts.Certificate) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Task", "Peptide", "Nominal", "Tested", "Purity", "Endotoxin", "Test Date", "Flags"})
	for _, c := range certs {
		t.AppendRow(table.Row{
			c.TaskNumber,
			c.PeptideName,
			optQuantity(c.QuantityNominal, c.UnitOfMeasure),
			optQuantity(c.QuantityTested, c.UnitOfMeasure),
			optPercent(c.PurityPercentage),
			optFloat(c.EndotoxinLevel),
			c.TestDate.Format("2006-01-02"),
			certFlags(c),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(certs)})
	t.Render()
}

// printSummary renders a run summary as key/value rows.
func printSummary(w io.Writer, sum *manager.RunSummary) {
	t := newTable(w)
	t.SetTitle("Run " + sum.RunID)
	t.AppendRows([]table.Row{
		{"Stage", string(sum.Stage)},
		{"Duration", sum.Duration.Round(time.Millisecond).String()},
		{"Pages fetched / failed", fmt.Sprintf("%d / %d", sum.PagesFetched, sum.PagesFailed)},
		{"Listed", sum.Scraped},
		{"New images", sum.New},
		{"Extracted", sum.Extracted},
		{"Inserted / backfilled", fmt.Sprintf("%d / %d", sum.Inserted, sum.Backfilled)},
		{"Skipped (duplicate / quota)", fmt.Sprintf("%d / %d", sum.SkippedDuplicate, sum.SkippedQuota)},
		{"Failed", sum.Failed},
		{"Warnings", sum.Warnings},
		{"Suppliers scored", sum.Scored},
		{"Top supplier", sum.TopSupplier},
		{"Snapshots pruned", sum.Pruned},
		{"Estimated cost", fmt.Sprintf("$%.4f", sum.EstimatedCost)},
	})
	if sum.Halted {
		t.AppendRow(table.Row{"Halted", sum.HaltReason})
	}
	if sum.Error != "" {
		t.AppendRow(table.Row{"Error", sum.Error})
	}
	t.Render()

	if len(sum.Failures) == 0 {
		return
	}
	ft := newTable(w)
	ft.SetTitle("Failures")
	ft.AppendHeader(table.Row{"Stage", "Task", "Kind", "Reason"})
	for _, f := range sum.Failures {
		ft.AppendRow(table.Row{string(f.Stage), f.TaskNumber, f.Kind, text.Trim(f.Reason, 80)})
	}
	ft.Render()
}

func labelText(l contracts.QualityLabel) string {
	switch l {
	case contracts.QualityHot:
		return text.Colors{text.FgHiRed, text.Bold}.Sprint(string(l))
	case contracts.QualityGood:
		return text.FgGreen.Sprint(string(l))
	case contracts.QualityPoor:
		return text.FgHiBlack.Sprint(string(l))
	default:
		return string(l)
	}
}

func certFlags(c *contracts.Certificate) string {
	flags := ""
	if c.IsBlend {
		flags += "blend "
	}
	if c.HasReplicates {
		flags += "replicates "
	}
	if c.EndotoxinUpperBound {
		flags += "endo<"
	}
	return flags
}

func optPercent(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", *v)
}

func optFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func optQuantity(v *float64, unit string) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64) + unit
}

func optDays(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%dd", *v)
}

// stageBar follows a run's progress events with a progress bar per stage.
type stageBar struct {
	w     io.Writer
	bar   *progressbar.ProgressBar
	stage manager.Stage
}

func newStageBar(w io.Writer) *stageBar {
	return &stageBar{w: w}
}

// Update is a manager.ProgressFunc.
func (s *stageBar) Update(p manager.Progress) {
	if p.Stage.Done() {
		s.finish()
		fmt.Fprintf(s.w, "[%s] %s\n", p.Stage, p.Message)
		return
	}
	if p.Stage != s.stage || s.bar == nil {
		s.finish()
		s.stage = p.Stage
		total := p.Total
		if total <= 0 {
			total = -1
		}
		s.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(s.w),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(fmt.Sprintf("[%s]", p.Stage)),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "█",
				SaucerHead:    "█",
				SaucerPadding: "░",
				BarStart:      "│",
				BarEnd:        "│",
			}),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("items"),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(s.w) }),
			progressbar.OptionSetRenderBlankState(true),
		)
	}
	if p.Total > 0 {
		s.bar.ChangeMax(p.Total)
	}
	_ = s.bar.Set(p.Current)
}

func (s *stageBar) finish() {
	if s.bar != nil {
		_ = s.bar.Finish()
		s.bar = nil
	}
}

// printSuccess prints a success message
func printSuccess(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "✅ %s\n", fmt.Sprintf(format, args...))
}

// printWarning prints a warning message
func printWarning(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "⚠️  %s\n", fmt.Sprintf(format, args...))
}
