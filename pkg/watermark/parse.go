package watermark

import (
	"fmt"
	"strings"
	"time"
)

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime converts a watermark value to UTC. Values without a zone are
// taken as UTC.
func ParseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case string:
		return parseString(t)
	case *string:
		if t == nil {
			return time.Time{}, false
		}
		return parseString(*t)
	case []byte:
		return parseString(string(t))
	}
	return time.Time{}, false
}

func parseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// combine joins a date part and a time-of-day part into one UTC instant.
func combine(date, clock any) (time.Time, bool) {
	d, ok := ParseTime(date)
	if !ok {
		return time.Time{}, false
	}
	var c string
	switch v := clock.(type) {
	case time.Time:
		c = v.Format("15:04:05.999999999")
	case string:
		c = v
	case []byte:
		c = string(v)
	default:
		c = fmt.Sprint(v)
	}
	return parseString(d.Format("2006-01-02") + " " + strings.TrimSpace(c))
}

// Format renders t the way checkpoints and query parameters carry it.
func Format(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
