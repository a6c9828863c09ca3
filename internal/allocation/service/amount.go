package service

import (
	"strconv"
	"strings"
)

// parseAmount honours a trailing k/m suffix, strips everything but digits
// and the decimal point, then scales. Returns 0 for anything it cannot
// parse, which callers reject with ErrInvalidAmount rather than silently
// allocating zero.
func parseAmount(raw string) int64 {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return 0
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(trimmed, "k"):
		multiplier = 1_000
		trimmed = strings.TrimSuffix(trimmed, "k")
	case strings.HasSuffix(trimmed, "m"):
		multiplier = 1_000_000
		trimmed = strings.TrimSuffix(trimmed, "m")
	}

	var b strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' || r == '.' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return int64(value * float64(multiplier))
}
