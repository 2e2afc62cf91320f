package utils

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"90m":   90 * time.Minute,
		"2h30m": 150 * time.Minute,
		"3d":    72 * time.Hour,
		"1w":    168 * time.Hour,
	}
	for raw, want := range cases {
		got, err := ParseDuration(raw)
		if err != nil || got != want {
			t.Fatalf("ParseDuration(%q) = %v, %v; want %v", raw, got, err, want)
		}
	}
	for _, bad := range []string{"", "0d", "abc", "-5m"} {
		if _, err := ParseDuration(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
