package database

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// sqliteTimeFormats are the layouts modernc.org/sqlite writes, plus the
// ones SQLite's own date functions produce.
var sqliteTimeFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NullTime scans a timestamp column from either backend. Postgres returns
// time.Time; SQLite may return text.
type NullTime struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (n *NullTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	case int64:
		n.Time, n.Valid = time.Unix(v, 0).UTC(), true
		return nil
	}
	return fmt.Errorf("cannot scan %T into NullTime", src)
}

func (n *NullTime) parse(s string) error {
	for _, layout := range sqliteTimeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}

// Value implements driver.Valuer.
func (n NullTime) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Time.UTC(), nil
}

// Ptr returns nil for NULL.
func (n NullTime) Ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

// TimeArg converts an optional time to a query argument.
func TimeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// FloatArg converts an optional float to a query argument.
func FloatArg(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

// StringArg stores empty strings as NULL.
func StringArg(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
