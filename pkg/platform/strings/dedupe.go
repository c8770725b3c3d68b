// Package strings holds small helpers for configuration values.
package strings

import (
	"strings"
)

// DedupeAndTrim trims every value and drops blanks and repeats, keeping the
// first occurrence. Used for comma-separated settings such as broker lists
// and allowed origins.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
