package common

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var zeroSizePattern = regexp.MustCompile(`^0+(?:[.,]0+)?\s*(?:[KMGT]I?)?B?$`)

// ParseHumanSize converts sizes such as "1.4 GB" or "700 MiB" to bytes.
// Unparseable input yields 0.
func ParseHumanSize(raw string) int64 {
	value := strings.TrimSpace(strings.ToUpper(raw))
	value = strings.ReplaceAll(value, "IB", "B")
	if value == "" {
		return 0
	}

	unit := ""
	number := value
	for _, suffix := range []string{"TB", "GB", "MB", "KB", "B"} {
		if strings.HasSuffix(number, suffix) {
			unit = suffix
			number = strings.TrimSpace(strings.TrimSuffix(number, suffix))
			break
		}
	}
	if unit == "" {
		if parsed, err := strconv.ParseInt(number, 10, 64); err == nil {
			return parsed
		}
		return 0
	}

	parsed, err := strconv.ParseFloat(strings.ReplaceAll(number, ",", "."), 64)
	if err != nil || parsed < 0 {
		return 0
	}

	multiplier := float64(1)
	switch unit {
	case "KB":
		multiplier = 1024
	case "MB":
		multiplier = 1024 * 1024
	case "GB":
		multiplier = 1024 * 1024 * 1024
	case "TB":
		multiplier = 1024 * 1024 * 1024 * 1024
	}
	return int64(parsed * multiplier)
}

// FormatSize renders a byte count the way index sites do ("1.4 GB").
func FormatSize(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	}
	units := []string{"KB", "MB", "GB", "TB"}
	value := float64(bytes)
	unit := "B"
	for _, u := range units {
		if value < 1024 {
			break
		}
		value /= 1024
		unit = u
	}
	return fmt.Sprintf("%.1f %s", value, unit)
}

// IsZeroSize reports whether a provider explicitly reported an empty payload.
// Unknown sizes are not zero.
func IsZeroSize(raw string) bool {
	return zeroSizePattern.MatchString(strings.ToUpper(strings.TrimSpace(raw)))
}
