package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/internal/manager"
)

func TestExportTarget(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		format     string
		output     string
		wantFormat string
		wantOutput string
		wantErr    bool
	}{
		{name: "defaults", wantFormat: "csv", wantOutput: "supplier_rankings_20250601.csv"},
		{name: "xlsx flag", format: "XLSX", wantFormat: "xlsx", wantOutput: "supplier_rankings_20250601.xlsx"},
		{name: "from extension", output: "out/r.xlsx", wantFormat: "xlsx", wantOutput: "out/r.xlsx"},
		{name: "explicit wins", format: "csv", output: "r.xlsx", wantFormat: "csv", wantOutput: "r.xlsx"},
		{name: "unknown", format: "pdf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, output, err := exportTarget(tt.format, tt.output, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, format)
			assert.Equal(t, tt.wantOutput, output)
		})
	}
}

func TestPrintRankings(t *testing.T) {
	purity := 99.1
	days := 4
	var buf bytes.Buffer
	printRankings(&buf, []contracts.SupplierRanking{
		{Rank: 1, SupplierName: "Mandy Bio", TotalScore: 72.34, Label: contracts.QualityMediocre, AvgPurity: &purity, DaysSinceLast: &days},
		{Rank: 2, SupplierName: "Acme Peptides", TotalScore: 40},
	})

	out := buf.String()
	assert.Contains(t, out, "Mandy Bio")
	assert.Contains(t, out, "72.3")
	assert.Contains(t, out, "99.10%")
	assert.Contains(t, out, "4d")
	assert.Contains(t, out, "Acme Peptides")
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &manager.RunSummary{
		RunID:      "run-42",
		Stage:      manager.StageComplete,
		Scraped:    12,
		Halted:     true,
		HaltReason: "provider authentication failed",
		Failures: []manager.ItemFailure{
			{Stage: manager.StageExtraction, TaskNumber: "1001", Kind: "malformed_response", Reason: "no JSON object"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "run-42")
	assert.Contains(t, out, "provider authentication failed")
	assert.Contains(t, out, "malformed_response")
	assert.Contains(t, out, "1001")
}

func TestStageBar(t *testing.T) {
	var buf bytes.Buffer
	bar := newStageBar(&buf)
	bar.Update(manager.Progress{Stage: manager.StageScraping, Current: 1})
	bar.Update(manager.Progress{Stage: manager.StageExtraction, Current: 1, Total: 3})
	bar.Update(manager.Progress{Stage: manager.StageExtraction, Current: 3, Total: 3})
	bar.Update(manager.Progress{Stage: manager.StageComplete, Message: "done"})

	assert.Nil(t, bar.bar)
	assert.Contains(t, buf.String(), "[complete] done")
}
