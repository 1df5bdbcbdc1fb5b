package scheduler

import (
	"strconv"
	"strings"
	"time"
)

var dayUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseIntervalDuration accepts Go durations ("30s", "1h30m") plus the
// kline-style day and week suffixes ("1d", "1w"). Non-positive values fail.
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	if unit, ok := dayUnits[interval[len(interval)-1]]; ok {
		n, err := strconv.Atoi(interval[:len(interval)-1])
		if err != nil || n <= 0 {
			return 0, false
		}
		return time.Duration(n) * unit, true
	}
	d, err := time.ParseDuration(interval)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
