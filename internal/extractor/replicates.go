package extractor

import (
	"math"
	"regexp"
	"strings"

	"github.com/wonny/coarank/backend/internal/contracts"
	"github.com/wonny/coarank/backend/internal/normalize"
)

// replicateKeyRe matches "Purity 2", "Purity (2)", "Purity #3", "Purity_2".
var replicateKeyRe = regexp.MustCompile(`^(.+?)\s*(?:\s|#|_|\()\s*(\d{1,2})\s*\)?$`)

// reading is one value of a results parameter.
type reading struct {
	param string // parameter with any replicate suffix removed
	key   string // key as printed
	value string
}

// readingGroup holds every reading of one parameter in document order.
type readingGroup struct {
	param    string
	readings []reading
}

// groupReadings flattens a results table into parameter groups. Array
// values and numbered keys of the same parameter end up in one group.
func groupReadings(results contracts.ResultSet) []*readingGroup {
	var groups []*readingGroup
	byParam := make(map[string]*readingGroup)

	add := func(r reading) {
		id := strings.ToLower(r.param)
		g, ok := byParam[id]
		if !ok {
			g = &readingGroup{param: r.param}
			byParam[id] = g
			groups = append(groups, g)
		}
		g.readings = append(g.readings, r)
	}

	for _, e := range results {
		param := replicateBase(e.Key)
		for _, v := range e.Values {
			add(reading{param: param, key: e.Key, value: v})
		}
	}
	return groups
}

// replicateBase strips a replicate counter from key. Keys that are
// themselves peptide names ("GHRP 6", "TB 500") are left intact.
func replicateBase(key string) string {
	key = strings.TrimSpace(key)
	m := replicateKeyRe.FindStringSubmatch(key)
	if m == nil || normalize.IsKnownPeptide(key) {
		return key
	}
	return strings.TrimSpace(m[1])
}

// ReplicateStatistics computes count, mean, sample standard deviation and
// coefficient of variation (percent) for one parameter.
func ReplicateStatistics(param string, values []float64) contracts.ReplicateStats {
	st := contracts.ReplicateStats{Parameter: param, Count: len(values)}
	if len(values) == 0 {
		return st
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	st.Mean = sum / float64(len(values))
	if len(values) > 1 {
		var ss float64
		for _, v := range values {
			ss += (v - st.Mean) * (v - st.Mean)
		}
		st.StdDev = math.Sqrt(ss / float64(len(values)-1))
	}
	if st.Mean != 0 {
		st.CV = st.StdDev / st.Mean * 100
	}
	return st
}
