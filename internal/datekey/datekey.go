// Package datekey handles the YYYY-MM-DD keys that index events by day. The
// calendar grid and the store agree on this format, so all parsing and range
// iteration lives here.
package datekey

import (
	"fmt"
	"time"
)

const layout = "2006-01-02"

// Format renders a calendar date as a zero-padded YYYY-MM-DD key.
func Format(year, month, day int) string {
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}

// Parse converts a key back to a time.Time. It rejects keys that are not in
// strict YYYY-MM-DD form or do not name a real calendar date.
func Parse(key string) (time.Time, error) {
	t, err := time.Parse(layout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date key %q: %w", key, err)
	}
	return t, nil
}

// Valid reports whether key names a real calendar date.
func Valid(key string) bool {
	_, err := Parse(key)
	return err == nil
}

// Range returns every calendar day from start to end inclusive, in date
// order. A start after end yields an empty slice.
func Range(start, end string) ([]string, error) {
	from, err := Parse(start)
	if err != nil {
		return nil, err
	}
	to, err := Parse(end)
	if err != nil {
		return nil, err
	}
	var keys []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		keys = append(keys, d.Format(layout))
	}
	return keys, nil
}
