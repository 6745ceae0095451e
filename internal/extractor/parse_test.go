package extractor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/coarank/backend/internal/contracts"
)

func decodeRaw(t *testing.T, doc string) *contracts.RawExtraction {
	t.Helper()
	var raw contracts.RawExtraction
	require.NoError(t, json.Unmarshal([]byte(doc), &raw))
	raw.Raw = json.RawMessage(doc)
	return &raw
}

func warningFields(res *Result) []string {
	var out []string
	for _, w := range res.Warnings {
		out = append(out, w.Field)
	}
	return out
}

var scrapedAt = time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)

func TestParse_SinglePeptide(t *testing.T) {
	raw := decodeRaw(t, `{
		"task_number": "#64012",
		"analysis_conducted": "14 Nov 2024",
		"sample_received": "08 Nov 2024",
		"client": "www.mandybio.com",
		"sample": "BPC-157 10mg",
		"peptide_name": "BPC-157",
		"quantity_nominal": "10",
		"unit_of_measure": "mg",
		"batch": "MB-2411",
		"test_type": "Quantity and purity",
		"results": {"BPC-157": "10.23 mg", "Purity": "99.12%"},
		"comments": "",
		"verification_key": "ab12cd34ef56"
	}`)

	res := Parse(raw, Meta{TaskNumber: "64012", ImageHash: "h1", ScrapedAt: scrapedAt})
	c := res.Certificate

	assert.Empty(t, res.Warnings)
	assert.Equal(t, "64012", c.TaskNumber)
	assert.Equal(t, "Mandy Bio", c.SupplierName)
	assert.Equal(t, "www.mandybio.com", c.SupplierNameRaw)
	assert.Equal(t, "BPC157", c.PeptideName)
	assert.Equal(t, "MB-2411", c.BatchNumber)
	require.NotNil(t, c.QuantityNominal)
	assert.Equal(t, 10.0, *c.QuantityNominal)
	assert.Equal(t, "mg", c.UnitOfMeasure)
	require.NotNil(t, c.QuantityTested)
	assert.InDelta(t, 10.23, *c.QuantityTested, 1e-9)
	require.NotNil(t, c.PurityPercentage)
	assert.InDelta(t, 99.12, *c.PurityPercentage, 1e-9)
	assert.Equal(t, time.Date(2024, time.November, 14, 0, 0, 0, 0, time.UTC), c.TestDate)
	require.NotNil(t, c.SampleReceived)
	assert.Equal(t, "AB12CD34EF56", c.VerificationKey)
	assert.Equal(t, "purity", c.TestCategory)
	assert.False(t, c.IsBlend)
	assert.False(t, c.HasReplicates)
	assert.True(t, c.Processed)
	assert.JSONEq(t, string(raw.Raw), string(c.RawExtraction))
	assert.NoError(t, c.Validate())
}

func TestParse_GlowBlend(t *testing.T) {
	raw := decodeRaw(t, `{
		"task_number": "70001",
		"analysis_conducted": "2024-12-01",
		"client": "Licensed Peptides",
		"sample": "GLOW 70mg",
		"results": {
			"BPC-157": "10.4 mg",
			"TB-500": "9.6 mg",
			"GHK-Cu": "49.1 mg",
			"Purity": "98.9%"
		}
	}`)

	res := Parse(raw, Meta{ImageHash: "h2", ScrapedAt: scrapedAt})
	c := res.Certificate

	assert.Equal(t, "GLOW", c.PeptideName)
	assert.True(t, c.IsBlend)
	assert.Equal(t, "GLOW", c.ProtocolName)
	require.NotNil(t, c.QuantityNominal)
	assert.Equal(t, 70.0, *c.QuantityNominal)
	require.Len(t, c.BlendComponents, 3)

	want := map[string][2]float64{
		"BPC157": {10, 10.4},
		"TB500":  {10, 9.6},
		"GHK-Cu": {50, 49.1},
	}
	for _, comp := range c.BlendComponents {
		w, ok := want[comp.Peptide]
		require.True(t, ok, comp.Peptide)
		require.NotNil(t, comp.ExpectedNominal)
		require.NotNil(t, comp.Quantity)
		assert.InDelta(t, w[0], *comp.ExpectedNominal, 1e-9)
		assert.InDelta(t, w[1], *comp.Quantity, 1e-9)
		assert.Equal(t, "mg", comp.Unit)
	}
	require.NotNil(t, c.QuantityTested)
	assert.InDelta(t, 69.1, *c.QuantityTested, 1e-9)
	assert.NoError(t, c.Validate())
}

func TestParse_ComposedBlendWithoutProtocolNominal(t *testing.T) {
	raw := decodeRaw(t, `{
		"task_number": "70002",
		"client": "QSC",
		"sample": "Semaglutide / Cagrilintide",
		"results": {"Semaglutide": "5.1 mg", "Cagrilintide": "4.8 mg"}
	}`)

	c := Parse(raw, Meta{ImageHash: "h3", ScrapedAt: scrapedAt}).Certificate

	assert.True(t, c.IsBlend)
	assert.Empty(t, c.ProtocolName)
	assert.Equal(t, "Cagrilintide+Semaglutide", c.PeptideName)
	require.Len(t, c.BlendComponents, 2)
	for _, comp := range c.BlendComponents {
		assert.Nil(t, comp.ExpectedNominal)
		assert.NotNil(t, comp.Quantity)
	}
	assert.Equal(t, scrapedAt, c.TestDate)
}

func TestParse_BlendFromResultsOnly(t *testing.T) {
	raw := decodeRaw(t, `{
		"task_number": "70003",
		"client": "QSC",
		"sample": "Recovery stack",
		"quantity_nominal": "20mg",
		"results": {"BPC157": "9.9 mg", "TB500": "10.2 mg"}
	}`)

	c := Parse(raw, Meta{ImageHash: "h4", ScrapedAt: scrapedAt}).Certificate

	assert.True(t, c.IsBlend)
	assert.Equal(t, "BPC+TB", c.ProtocolName)
	require.Len(t, c.BlendComponents, 2)
	for _, comp := range c.BlendComponents {
		require.NotNil(t, comp.ExpectedNominal)
		assert.InDelta(t, 10, *comp.ExpectedNominal, 1e-9)
	}
}

func TestParse_Replicates(t *testing.T) {
	raw := decodeRaw(t, `{
		"task_number": "70004",
		"client": "QSC",
		"sample": "Tirzepatide 10mg",
		"results": {
			"Purity 1": "99.0%",
			"Purity 2": "99.2%",
			"Purity (3)": "99.4%",
			"Tirzepatide": ["10.1 mg", "10.3 mg"]
		}
	}`)

	c := Parse(raw, Meta{ImageHash: "h5", ScrapedAt: scrapedAt}).Certificate

	assert.True(t, c.HasReplicates)
	assert.Len(t, c.ReplicateMeasurements, 5)
	require.Len(t, c.ReplicateStatistics, 2)

	purity := c.ReplicateStatistics[0]
	assert.Equal(t, "Purity", purity.Parameter)
	assert.Equal(t, 3, purity.Count)
	assert.InDelta(t, 0.2, purity.StdDev, 1e-9)

	require.NotNil(t, c.PurityPercentage)
	assert.InDelta(t, 99.2, *c.PurityPercentage, 1e-9)
	require.NotNil(t, c.QuantityTested)
	assert.InDelta(t, 10.2, *c.QuantityTested, 1e-9)
	assert.False(t, c.IsBlend)
	assert.NoError(t, c.Validate())
}

func TestParse_EndotoxinAndSafetyPanels(t *testing.T) {
	raw := decodeRaw(t, `{
		"task_number": "70005",
		"client": "Peptide Gurus",
		"sample": "Retatrutide",
		"test_category": "Endotoxin",
		"endotoxin_level": "<50 EU/mg",
		"heavy_metals": {"Pb": "0.12 ppm", "Mercury": "<0.05 ppm", "Result": "Complies"},
		"microbiology_tamc": "<10 CFU/g",
		"results": {"TYMC": "<10 CFU/g"}
	}`)

	c := Parse(raw, Meta{ImageHash: "h6", ScrapedAt: scrapedAt}).Certificate

	require.NotNil(t, c.EndotoxinLevel)
	assert.Equal(t, 50.0, *c.EndotoxinLevel)
	assert.True(t, c.EndotoxinUpperBound)
	assert.Equal(t, "endotoxin", c.TestCategory)

	require.NotNil(t, c.HeavyMetals)
	assert.Equal(t, 0.12, c.HeavyMetals.Elements["Pb"].Value)
	assert.Equal(t, contracts.BoundUpper, c.HeavyMetals.Elements["Hg"].Bound)
	assert.Equal(t, "Complies", c.HeavyMetals.Verdict)

	require.NotNil(t, c.Microbiology)
	require.NotNil(t, c.Microbiology.TAMC)
	require.NotNil(t, c.Microbiology.TYMC)
	assert.Equal(t, 10.0, c.Microbiology.TYMC.Value)

	assert.True(t, c.HasEndotoxin())
	assert.True(t, c.HasHeavyMetals())
	assert.True(t, c.HasMicrobiology())
}

func TestParse_BestEffortFields(t *testing.T) {
	raw := decodeRaw(t, `{
		"task_number": "99999",
		"analysis_conducted": "last Tuesday",
		"testing_ordered": "02 Nov 2024",
		"client": "Acme Labs",
		"sample": "BPC-157",
		"endotoxin_level": "see attached",
		"results": {"Purity": "104.2%", "BPC-157": "unreadable"},
		"verification_key": "SHORT"
	}`)

	res := Parse(raw, Meta{TaskNumber: "64000", ImageHash: "h7", ScrapedAt: scrapedAt})
	c := res.Certificate

	assert.ElementsMatch(t,
		[]string{"task_number", "analysis_conducted", "endotoxin_level", "purity_percentage", "verification_key"},
		warningFields(res))

	assert.Equal(t, "64000", c.TaskNumber)
	assert.Nil(t, c.PurityPercentage)
	assert.Nil(t, c.EndotoxinLevel)
	assert.Nil(t, c.QuantityTested)
	assert.Empty(t, c.VerificationKey)
	assert.Equal(t, time.Date(2024, time.November, 2, 0, 0, 0, 0, time.UTC), c.TestDate)
	assert.Equal(t, "Acme Labs", c.SupplierName)
	assert.NoError(t, c.Validate())
}
