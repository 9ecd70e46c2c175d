// Package version compares dotted version strings.
package version

import (
	"regexp"
	"strconv"
	"strings"
)

// IsNewer reports whether latest is a higher version than installed.
// Segments are compared numerically; a segment that does not parse counts
// as zero and missing segments are zero.
func IsNewer(latest, installed string) bool {
	a, b := segments(latest), segments(installed)
	for i := 0; i < max(len(a), len(b)); i++ {
		x, y := at(a, i), at(b, i)
		if x != y {
			return x > y
		}
	}
	return false
}

func segments(v string) []int {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(strings.TrimPrefix(v, "v"), "V")
	// Pre-release and build suffixes are ignored.
	if i := strings.IndexAny(v, "-+ "); i >= 0 {
		v = v[:i]
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			n = 0
		}
		out[i] = n
	}
	return out
}

func at(s []int, i int) int {
	if i < len(s) {
		return s[i]
	}
	return 0
}

var versionPattern = regexp.MustCompile(`v?\d+(?:\.\d+)+`)

// Extract finds the first dotted version in a command's --version output,
// e.g. "codex-cli 0.46.0" yields "0.46.0".
func Extract(output string) string {
	return strings.TrimPrefix(versionPattern.FindString(output), "v")
}
