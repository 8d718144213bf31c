package utils

import (
	"fmt"
	"strconv"
)

// ParseWindowDays reads a positive day count from a query value. An empty
// value yields def.
func ParseWindowDays(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("days must be an integer: %w", err)
	}
	if days < 1 {
		return 0, fmt.Errorf("days must be at least 1, got %d", days)
	}
	return days, nil
}
