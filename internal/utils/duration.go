package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration accepts Go durations plus a trailing d (days) or w
// (weeks) unit, e.g. "90m", "2h30m", "3d", "1w".
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return 0, fmt.Errorf("empty duration")
	}
	for suffix, unit := range map[string]time.Duration{"d": 24 * time.Hour, "w": 7 * 24 * time.Hour} {
		if strings.HasSuffix(raw, suffix) {
			n, err := strconv.Atoi(strings.TrimSuffix(raw, suffix))
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid duration %q", raw)
			}
			return time.Duration(n) * unit, nil
		}
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return d, nil
}
