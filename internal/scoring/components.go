package scoring

import "math"

// VolumeScore rewards certificate count, saturating at 30, plus a bonus
// for steady recent testing.
func VolumeScore(total, last30d int) float64 {
	base := math.Min(100, float64(total)/30*100)
	if last30d >= 3 {
		base += 10
	}
	return math.Min(100, base)
}

// QualityScore maps average purity onto 0..100 and penalizes any batch
// below 95%.
func QualityScore(avgPurity, minPurity float64) float64 {
	var base float64
	switch {
	case avgPurity >= 99:
		base = 90 + (avgPurity-99)*10
	case avgPurity >= 98:
		base = 70 + (avgPurity-98)*20
	case avgPurity >= 95:
		base = 50 + (avgPurity-95)*6.67
	default:
		base = avgPurity / 95 * 50
	}
	if minPurity < 95 {
		base -= 20
	}
	return clamp(base, 0, 100)
}

// ConsistencyScore maps purity spread onto 0..100 with a bonus for regular
// testing (average gap under 60 days).
func ConsistencyScore(stdPurity, avgGapDays float64) float64 {
	var base float64
	switch {
	case stdPurity < 0.5:
		base = 95
	case stdPurity < 1.0:
		base = 80
	case stdPurity < 2.0:
		base = 60
	default:
		base = math.Max(0, 50-(stdPurity-2)*10)
	}
	if avgGapDays < 60 {
		base += 10
	}
	return math.Min(100, base)
}

// RecencyScore decays with the days since the latest certificate.
func RecencyScore(daysSinceLast, last30d int) float64 {
	d := float64(daysSinceLast)
	var base float64
	switch {
	case daysSinceLast < 7:
		base = 100
	case daysSinceLast < 30:
		base = 70 + (30-d)/23*29
	case daysSinceLast < 90:
		base = 40 + (90-d)/60*30
	case daysSinceLast < 180:
		base = 10 + (180-d)/90*30
	default:
		base = math.Max(0, 10-(d-180)/365*10)
	}
	if last30d >= 2 {
		base += 15
	}
	return math.Min(100, base)
}

// NeutralEndotoxinScore is the endotoxin score of a supplier that never
// tested for endotoxin. Missing data is not evidence of contamination.
const NeutralEndotoxinScore = 50.0

// EndotoxinScore maps the average endotoxin level (EU/mg) onto 0..100.
// Five or more tested certificates earn a transparency bonus.
func EndotoxinScore(avgEndotoxin *float64, count int) float64 {
	if avgEndotoxin == nil || count == 0 {
		return NeutralEndotoxinScore
	}

	e := *avgEndotoxin
	var score float64
	switch {
	case e < 10:
		score = 100
	case e < 50:
		score = 80 + (50-e)/40*19
	case e < 100:
		score = 60 + (100-e)/50*20
	case e < 200:
		score = 40 + (200-e)/100*20
	default:
		score = math.Max(0, 40-(e-200)/100*10)
	}
	if count >= 5 {
		score += 5
	}
	return math.Min(100, score)
}

// TestingScore is the testing factor of the total: the endotoxin score
// moved by batch test coverage around the purity-only baseline.
func TestingScore(endotoxin, completeness float64) float64 {
	return clamp(endotoxin+(completeness-baseBatchScore)*0.2, 0, 100)
}

// AccuracyOf scores one declared/measured quantity pair. It returns false
// when the pair is unusable or the deviation exceeds ±50% (likely a
// labelling mistake). Under-dosing costs 2 points per percent; over-dosing
// earns 1 point per percent up to 120.
func AccuracyOf(declared, measured float64) (float64, bool) {
	if declared <= 0 || measured <= 0 {
		return 0, false
	}
	dev := (measured - declared) / declared * 100
	if math.Abs(dev) > 50 {
		return 0, false
	}
	if dev < 0 {
		return math.Max(0, 100-2*math.Abs(dev)), true
	}
	return math.Min(120, 100+dev), true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
