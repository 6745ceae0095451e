package extractor

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/wonny/coarank/backend/internal/contracts"
)

// ErrUnparseable is wrapped by every value and date parse failure.
var ErrUnparseable = errors.New("unparseable value")

var (
	valueRe     = regexp.MustCompile(`(?i)^(<=|>=|<|>|less than|greater than|below|above|nmt|nlt)?\s*([+-]?\d+(?:[.,]\d+)*)\s*(.*)$`)
	unitTokenRe = regexp.MustCompile(`^([%a-zA-Zµμ/]+)`)
	thousandsRe = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+$`)
)

var unitAliases = map[string]string{
	"%":      "%",
	"mg":     "mg",
	"mcg":    "mcg",
	"µg":     "mcg",
	"μg":     "mcg",
	"ug":     "mcg",
	"g":      "g",
	"iu":     "IU",
	"eu/mg":  "EU/mg",
	"eu":     "EU/mg",
	"cfu/g":  "CFU/g",
	"cfu/mg": "CFU/mg",
	"cfu":    "CFU/g",
	"ppm":    "ppm",
	"ppb":    "ppb",
}

// ParseValue parses a reading such as "99.1%", "10.23 mg", "5,000 IU",
// "<50 EU/mg" or ">99%". Inequalities keep their bound magnitude and are
// tagged as upper or lower estimates.
func ParseValue(s string) (contracts.Measurement, error) {
	in := strings.TrimSpace(s)
	in = strings.NewReplacer("≤", "<=", "≥", ">=").Replace(in)

	m := valueRe.FindStringSubmatch(in)
	if m == nil {
		return contracts.Measurement{}, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}

	value, err := parseNumber(m[2])
	if err != nil {
		return contracts.Measurement{}, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}

	out := contracts.Measurement{Value: value, Unit: normalizeUnit(m[3])}
	switch strings.ToLower(m[1]) {
	case "<", "<=", "less than", "below", "nmt":
		out.Bound = contracts.BoundUpper
	case ">", ">=", "greater than", "above", "nlt":
		out.Bound = contracts.BoundLower
	}
	return out, nil
}

// parseNumber accepts "5,000" and "5,000.5" as thousands and "10,5" as a
// decimal comma.
func parseNumber(s string) (float64, error) {
	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		s = strings.ReplaceAll(s, ",", "")
	case thousandsRe.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	default:
		s = strings.ReplaceAll(s, ",", ".")
	}
	return strconv.ParseFloat(s, 64)
}

func normalizeUnit(rest string) string {
	rest = strings.TrimSpace(rest)
	tok := unitTokenRe.FindString(rest)
	if tok == "" {
		return ""
	}
	if u, ok := unitAliases[strings.ToLower(tok)]; ok {
		return u
	}
	return strings.ToLower(tok)
}

// IsMassUnit reports whether quantities in unit can be compared by mass.
func IsMassUnit(unit string) bool {
	switch unit {
	case "mg", "mcg", "g":
		return true
	}
	return false
}

// ConvertQuantity converts between mass units. IU converts only to itself.
func ConvertQuantity(v float64, from, to string) (float64, bool) {
	if from == to {
		return v, true
	}
	if !IsMassUnit(from) || !IsMassUnit(to) {
		return 0, false
	}
	scale := map[string]float64{"g": 1000, "mg": 1, "mcg": 0.001}
	return v * scale[from] / scale[to], true
}

func parseError(field, value string, err error) *contracts.ParseError {
	return &contracts.ParseError{Field: field, Value: value, Err: err}
}
