package cache

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

var ttlPattern = regexp.MustCompile(`^\s*(\d+)\s*([dhms])\s*$`)

// ParseTTL parses "<n>d", "<n>h", "<n>m" or "<n>s".
func ParseTTL(s string) (time.Duration, error) {
	m := ttlPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid ttl '%s': expected a number followed by d, h, m or s", s)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl '%s': %w", s, err)
	}

	var unit time.Duration
	switch m[2] {
	case "d":
		unit = 24 * time.Hour
	case "h":
		unit = time.Hour
	case "m":
		unit = time.Minute
	case "s":
		unit = time.Second
	}

	if n > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("invalid ttl '%s': duration too large", s)
	}

	return time.Duration(n) * unit, nil
}
