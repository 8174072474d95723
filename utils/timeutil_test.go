package utils

import (
	"testing"
	"time"
)

func TestParseISOTime(t *testing.T) {
	expected := time.Date(2012, 3, 4, 5, 6, 7, 0, time.UTC)
	for _, s := range []string{"2012-03-04T05:06:07Z", "2012-03-04T07:06:07+02:00", " 2012-03-04T05:06:07 "} {
		ts, err := ParseISOTime(s)
		if err != nil {
			t.Errorf("ParseISOTime(%q) failed: %v", s, err)
			continue
		}
		if !ts.Equal(expected) {
			t.Errorf("ParseISOTime(%q) failed. Expecting %v, actual: %v", s, expected, ts)
		}
	}

	if _, err := ParseISOTime("yesterday"); err == nil {
		t.Errorf("invalid time should fail")
	}

	if s := FormatISOTime(expected.Add(123 * time.Millisecond)); s != "2012-03-04T05:06:07.123Z" {
		t.Errorf("FormatISOTime failed, actual: %s", s)
	}
}
