package util

import (
	"fmt"
	"strings"
)

// SplitCommaSeparated splits a comma-separated string and trims whitespace from each element.
// Empty input returns nil.
func SplitCommaSeparated(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// SanitizeFileName maps a device identifier onto a single path element.
// Letters, digits, '-', '.' and '_' pass through, so hostnames and IPv4
// addresses are unchanged; every other byte becomes %XX. Distinct names
// always give distinct results. The names "." and ".." are fully encoded and
// the empty name becomes "%".
func SanitizeFileName(name string) string {
	switch name {
	case "":
		return "%"
	case ".", "..":
		return strings.Repeat("%2E", len(name))
	}
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
