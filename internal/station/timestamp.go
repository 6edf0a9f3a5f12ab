package station

import (
	"fmt"
	"regexp"
	"time"
)

// Timestamp keys are fixed-width and zero-padded, so lexicographic order on
// keys equals chronological order.
var timestampKeyPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})_(\d{2})-(\d{2})(?:-(\d{2}))?$`)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

const (
	keyLayoutMinutes = "2006-01-02_15-04"
	keyLayoutSeconds = "2006-01-02_15-04-05"
)

// IsTimestampKey reports whether key has the YYYY-MM-DD_HH-MM(-SS) form.
func IsTimestampKey(key string) bool {
	return timestampKeyPattern.MatchString(key)
}

// ParseTimestampKey parses a reading key in loc.
func ParseTimestampKey(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	m := timestampKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return time.Time{}, fmt.Errorf("invalid timestamp key %q", key)
	}
	layout := keyLayoutMinutes
	if m[4] != "" {
		layout = keyLayoutSeconds
	}
	return time.ParseInLocation(layout, key, loc)
}

// FormatTimestampKey renders a key as "YYYY-MM-DD HH:MM", or Placeholder-style
// "--" when the key cannot be parsed.
func FormatTimestampKey(key string) string {
	m := timestampKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return "--"
	}
	return fmt.Sprintf("%s %s:%s", m[1], m[2], m[3])
}

// ValidDate reports whether date has the YYYY-MM-DD form and is a real date.
func ValidDate(date string) bool {
	if !datePattern.MatchString(date) {
		return false
	}
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

// IsStale reports whether a reading taken at ts is older than threshold at
// now. A reading exactly threshold old is not stale.
func IsStale(ts, now time.Time, threshold time.Duration) bool {
	return now.Sub(ts) > threshold
}

// TimestampKey renders t as a minute-resolution reading key.
func TimestampKey(t time.Time) string {
	return t.Format(keyLayoutMinutes)
}
