package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Binary byte units.
const (
	BytesPerKB int64 = 1024
	BytesPerMB int64 = 1024 * BytesPerKB
	BytesPerGB int64 = 1024 * BytesPerMB
	BytesPerTB int64 = 1024 * BytesPerGB
)

var byteUnits = []struct {
	suffix string
	size   int64
}{
	{"TB", BytesPerTB},
	{"GB", BytesPerGB},
	{"MB", BytesPerMB},
	{"KB", BytesPerKB},
}

// FormatBytes converts a byte count to a human-readable string using binary
// units, e.g. 1536 -> "1.50 KB". Negative values format as "0 B".
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	for _, u := range byteUnits {
		if bytes >= u.size {
			return fmt.Sprintf("%.2f %s", float64(bytes)/float64(u.size), u.suffix)
		}
	}
	return fmt.Sprintf("%d B", bytes)
}

// ParseBytes converts a size string such as "512MB", "1.5 GB" or "4096" to
// bytes. Units are case-insensitive; the trailing B is optional.
func ParseBytes(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	i := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	numStr, unit := s, ""
	if i >= 0 {
		numStr, unit = s[:i], strings.TrimSpace(s[i:])
	}
	if numStr == "" {
		return 0, fmt.Errorf("invalid size %q: no number", s)
	}

	value, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	multiplier := int64(1)
	switch unit {
	case "", "B":
	case "K", "KB", "KIB":
		multiplier = BytesPerKB
	case "M", "MB", "MIB":
		multiplier = BytesPerMB
	case "G", "GB", "GIB":
		multiplier = BytesPerGB
	case "T", "TB", "TIB":
		multiplier = BytesPerTB
	default:
		return 0, fmt.Errorf("invalid size %q: unknown unit %q", s, unit)
	}
	return int64(value * float64(multiplier)), nil
}
