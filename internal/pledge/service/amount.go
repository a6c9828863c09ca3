package service

import (
	"strconv"
	"strings"
)

// resolveCommittedAmount tries the named bucket first ("Month",
// "Semester", ...), then falls back to parsing duration directly as a
// k/m-suffixed amount.
func resolveCommittedAmount(duration string, table map[string]int64) int64 {
	if amount, ok := table[strings.TrimSpace(duration)]; ok {
		return amount
	}
	return parseKMAmount(duration)
}

func parseKMAmount(raw string) int64 {
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
	if b.Len() == 0 {
		return 0
	}
	value, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return int64(value * float64(multiplier))
}
