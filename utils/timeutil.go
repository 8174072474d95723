package utils

import (
	"fmt"
	"strings"
	"time"
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// ParseISOTime parses an ISO 8601 timestamp such as those found in
// gml:timePosition. Timestamps without a zone are taken as UTC.
func ParseISOTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO 8601 time: %q", s)
}

// FormatISOTime formats t in UTC using ISOFormat.
func FormatISOTime(t time.Time) string {
	return t.UTC().Format(ISOFormat)
}
