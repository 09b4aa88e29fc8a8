package util

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeUnits = map[string]int64{
	"":    1,
	"B":   1,
	"K":   1 << 10,
	"KB":  1 << 10,
	"KIB": 1 << 10,
	"M":   1 << 20,
	"MB":  1 << 20,
	"MIB": 1 << 20,
	"G":   1 << 30,
	"GB":  1 << 30,
	"GIB": 1 << 30,
}

// ParseSize parses a byte size such as "1MB", "512KiB" or "2048". Units are
// binary and case-insensitive.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	i := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if i < 0 {
		i = len(s)
	}
	if i == 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	mult, ok := sizeUnits[strings.TrimSpace(s[i:])]
	if !ok {
		return 0, fmt.Errorf("invalid size unit in %q", s)
	}
	return n * mult, nil
}

// SizeOr is ParseSize with a fallback for empty or invalid input.
func SizeOr(s string, def int64) int64 {
	n, err := ParseSize(s)
	if err != nil {
		return def
	}
	return n
}
