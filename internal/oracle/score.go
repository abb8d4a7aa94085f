package oracle

import (
	"regexp"
	"strconv"
	"strings"
)

var scoreLine = regexp.MustCompile(`(?i)^SCORE:\s*(-?\d+)\s*$`)

// ParseScore returns the value of the last "SCORE: <int>" line in text.
// Values outside 0..10 are treated as missing.
func ParseScore(text string) (int, bool) {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		m := scoreLine.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 0 || n > 10 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// StripScore removes a trailing score line (the last non-empty line) and
// trims the result.
func StripScore(text string) string {
	lines := strings.Split(strings.TrimRight(text, " \t\r\n"), "\n")
	if n := len(lines); n > 0 && scoreLine.MatchString(strings.TrimSpace(lines[n-1])) {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
