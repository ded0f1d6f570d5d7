package id

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatDocumentNumber returns a number like "JV-FY2025-00042".
// An empty prefix yields just the padded sequence.
func FormatDocumentNumber(prefix, sep string, seq int64, padding int) string {
	n := fmt.Sprintf("%0*d", padding, seq)
	if prefix == "" {
		return n
	}
	return prefix + sep + n
}

// JoinPrefix joins non-empty prefix parts with sep: ("JV", "FY2025") -> "JV-FY2025".
func JoinPrefix(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// ParseDocumentNumber splits "JV-FY2025-00042" into prefix "JV-FY2025" and seq 42.
func ParseDocumentNumber(number, sep string) (prefix string, seq int64, err error) {
	if number == "" {
		return "", 0, fmt.Errorf("invalid document number: %q", number)
	}

	digits := number
	if sep != "" {
		if i := strings.LastIndex(number, sep); i >= 0 {
			prefix = number[:i]
			digits = number[i+len(sep):]
		}
	}

	seq, err = strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid sequence in document number %q: %w", number, err)
	}
	if seq <= 0 {
		return "", 0, fmt.Errorf("invalid sequence in document number %q: must be positive", number)
	}
	return prefix, seq, nil
}

// FormatChildCode returns a child account code like "1000.01".
func FormatChildCode(parentCode string, suffix int) string {
	return fmt.Sprintf("%s.%02d", parentCode, suffix)
}

// ChildSuffix returns the two-digit suffix of code when it is a direct
// child code of parentCode: ("1000", "1000.07") -> 7, true.
func ChildSuffix(parentCode, code string) (int, bool) {
	rest, ok := strings.CutPrefix(code, parentCode+".")
	if !ok || len(rest) != 2 {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
