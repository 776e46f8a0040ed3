package utils

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Common size constants for convenience
const (
	Byte     int64 = 1
	KiloByte int64 = 1024
	MegaByte int64 = 1024 * KiloByte
	GigaByte int64 = 1024 * MegaByte
)

// MaxChunkSize bounds chunk sizes accepted from flags and config
const MaxChunkSize = 64 * MegaByte

var sizePattern = regexp.MustCompile(`^([\d.]+)\s*([A-Za-z]*)$`)

// Decimal units are 1000-based, single letters and IEC units are 1024-based.
var unitMultipliers = map[string]int64{
	"":    Byte,
	"B":   Byte,
	"KB":  1000,
	"MB":  1000 * 1000,
	"GB":  1000 * 1000 * 1000,
	"K":   KiloByte,
	"KIB": KiloByte,
	"M":   MegaByte,
	"MIB": MegaByte,
	"G":   GigaByte,
	"GIB": GigaByte,
}

// ParseDataSize parses sizes like "512", "64KiB", "1.5MB" or "4M" and
// returns the size in bytes.
func ParseDataSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(sizeStr)
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	matches := sizePattern.FindStringSubmatch(sizeStr)
	if matches == nil {
		return 0, fmt.Errorf("invalid size format: %s (expected format like '64KiB', '1MB', '4M')", sizeStr)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %s", matches[1])
	}

	multiplier, ok := unitMultipliers[strings.ToUpper(matches[2])]
	if !ok {
		return 0, fmt.Errorf("unknown unit: %s (supported: B, KB, MB, GB, K, M, G, KiB, MiB, GiB)", matches[2])
	}

	bytes := value * float64(multiplier)
	if bytes > math.MaxInt64 {
		return 0, fmt.Errorf("size overflow: %s", sizeStr)
	}
	return int64(bytes), nil
}

// ParseChunkSize parses a chunk size and checks it is usable for hashing
func ParseChunkSize(sizeStr string) (int, error) {
	size, err := ParseDataSize(sizeStr)
	if err != nil {
		return 0, err
	}
	if size <= 0 || size > MaxChunkSize {
		return 0, fmt.Errorf("chunk size %s out of range (1 B - %s)", sizeStr, FormatDataSize(MaxChunkSize))
	}
	return int(size), nil
}

// FormatDataSize formats bytes with binary units
func FormatDataSize(bytes int64) string {
	if bytes < 0 {
		return "invalid"
	}
	if bytes < KiloByte {
		return fmt.Sprintf("%d B", bytes)
	}

	units := []string{"KiB", "MiB", "GiB"}
	value := float64(bytes) / float64(KiloByte)
	exp := 0
	for value >= 1024 && exp < len(units)-1 {
		value /= 1024
		exp++
	}

	if value == math.Trunc(value) {
		return fmt.Sprintf("%.0f %s", value, units[exp])
	}
	return fmt.Sprintf("%.1f %s", value, units[exp])
}
