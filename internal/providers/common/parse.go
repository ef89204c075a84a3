package common

import (
	"strconv"
	"strings"
	"time"
)

var byteUnits = []string{"Bytes", "KB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}

// FormatBytes renders a size with binary (1024) steps, e.g. 1536 -> "1.5 KB".
func FormatBytes(size int64, decimals int) string {
	if size <= 0 {
		return "0 Bytes"
	}
	if decimals < 0 {
		decimals = 0
	}
	value := float64(size)
	unit := 0
	for value >= 1024 && unit < len(byteUnits)-1 {
		value /= 1024
		unit++
	}
	formatted := strconv.FormatFloat(value, 'f', decimals, 64)
	if strings.Contains(formatted, ".") {
		formatted = strings.TrimRight(strings.TrimRight(formatted, "0"), ".")
	}
	return formatted + " " + byteUnits[unit]
}

// ParseTimestamp accepts the ISO-8601 variants Jackett emits: with or without
// a zone offset and with optional fractional seconds. Zone-less values are
// read as UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, false
	}
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, format := range formats {
		parsed, err := time.Parse(format, value)
		if err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
