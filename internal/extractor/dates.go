package extractor

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var ordinalRe = regexp.MustCompile(`(?i)(\d)(st|nd|rd|th)\b`)

var dateLayouts = []string{
	"02 Jan 2006",
	"2 Jan 2006",
	"02 January 2006",
	"2 January 2006",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"02/01/2006",
	"2/1/2006",
	"02.01.2006",
	"2.1.2006",
	"2006/01/02",
	"02-01-2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02 Jan 2006 15:04",
}

// ParseDate parses the date formats seen on certificates. Numeric
// day/month forms are read day first. Results are in UTC.
func ParseDate(s string) (time.Time, error) {
	in := strings.Join(strings.Fields(s), " ")
	in = ordinalRe.ReplaceAllString(in, "$1")
	in = strings.TrimSuffix(in, ".")
	if in == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", ErrUnparseable)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, in); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date %q", ErrUnparseable, s)
}
