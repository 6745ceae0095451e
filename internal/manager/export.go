package manager

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/wonny/coarank/backend/internal/contracts"
)

const rankingSheet = "Rankings"

// exportColumn is one column of a rankings export.
type exportColumn struct {
	header string
	width  float64
	value  func(r *contracts.SupplierRanking) interface{}
}

var exportColumns = []exportColumn{
	{"Rank", 8, func(r *contracts.SupplierRanking) interface{} { return r.Rank }},
	{"Supplier", 28, func(r *contracts.SupplierRanking) interface{} { return r.SupplierName }},
	{"Total Score", 12, func(r *contracts.SupplierRanking) interface{} { return r.TotalScore }},
	{"Label", 12, func(r *contracts.SupplierRanking) interface{} { return string(r.Label) }},
	{"Volume", 10, func(r *contracts.SupplierRanking) interface{} { return r.Components.Volume }},
	{"Quality", 10, func(r *contracts.SupplierRanking) interface{} { return r.Components.Quality }},
	{"Accuracy", 10, func(r *contracts.SupplierRanking) interface{} { return r.Components.Accuracy }},
	{"Consistency", 12, func(r *contracts.SupplierRanking) interface{} { return r.Components.Consistency }},
	{"Recency", 10, func(r *contracts.SupplierRanking) interface{} { return r.Components.Recency }},
	{"Endotoxin", 10, func(r *contracts.SupplierRanking) interface{} { return r.Components.Endotoxin }},
	{"Completeness", 13, func(r *contracts.SupplierRanking) interface{} { return r.Components.Completeness }},
	{"Certificates", 12, func(r *contracts.SupplierRanking) interface{} { return r.TotalCertificates }},
	{"Last 30d", 10, func(r *contracts.SupplierRanking) interface{} { return r.Certificates30d }},
	{"Avg Purity", 12, func(r *contracts.SupplierRanking) interface{} { return optional(r.AvgPurity) }},
	{"Min Purity", 12, func(r *contracts.SupplierRanking) interface{} { return optional(r.MinPurity) }},
	{"Std Purity", 12, func(r *contracts.SupplierRanking) interface{} { return optional(r.StdPurity) }},
	{"Avg Endotoxin", 14, func(r *contracts.SupplierRanking) interface{} { return optional(r.AvgEndotoxin) }},
	{"Days Since Last", 15, func(r *contracts.SupplierRanking) interface{} {
		if r.DaysSinceLast == nil {
			return ""
		}
		return *r.DaysSinceLast
	}},
	{"Computed At", 22, func(r *contracts.SupplierRanking) interface{} { return r.ComputedAt.Format(time.RFC3339) }},
}

func optional(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func csvCell(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', 2, 64)
	default:
		return fmt.Sprint(t)
	}
}

// latestForExport loads every row of the newest snapshot.
func (m *Manager) latestForExport(ctx context.Context) ([]contracts.SupplierRanking, error) {
	rows, err := m.rankings.Latest(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rankings: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no ranking snapshot to export: %w", contracts.ErrNotFound)
	}
	return rows, nil
}

// WriteRankingsCSV writes the latest snapshot as CSV to w.
func (m *Manager) WriteRankingsCSV(ctx context.Context, w io.Writer) error {
	rows, err := m.latestForExport(ctx)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	headers := make([]string, len(exportColumns))
	for i, col := range exportColumns {
		headers[i] = col.header
	}
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for i := range rows {
		record := make([]string, len(exportColumns))
		for j, col := range exportColumns {
			record[j] = csvCell(col.value(&rows[i]))
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// ExportRankingsToCSV writes the latest snapshot to a CSV file.
func (m *Manager) ExportRankingsToCSV(ctx context.Context, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := m.WriteRankingsCSV(ctx, file); err != nil {
		return err
	}
	m.logger.WithField("file", filename).Info("Rankings exported to CSV")
	return nil
}

// buildWorkbook renders the latest snapshot into a workbook. The caller
// closes it.
func (m *Manager) buildWorkbook(ctx context.Context) (*excelize.File, error) {
	rows, err := m.latestForExport(ctx)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), rankingSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for i, col := range exportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(rankingSheet, cell, col.header)
		f.SetCellStyle(rankingSheet, cell, cell, headerStyle)

		name, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(rankingSheet, name, name, col.width)
	}

	for r := range rows {
		for c, col := range exportColumns {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			f.SetCellValue(rankingSheet, cell, col.value(&rows[r]))
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

// WriteRankingsXLSX writes the latest snapshot as an XLSX workbook to w.
func (m *Manager) WriteRankingsXLSX(ctx context.Context, w io.Writer) error {
	f, err := m.buildWorkbook(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// ExportRankingsToXLSX writes the latest snapshot to an XLSX file.
func (m *Manager) ExportRankingsToXLSX(ctx context.Context, filename string) error {
	f, err := m.buildWorkbook(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(filename); err != nil {
		return fmt.Errorf("failed to save Excel file: %w", err)
	}
	m.logger.WithField("file", filename).Info("Rankings exported to XLSX")
	return nil
}
