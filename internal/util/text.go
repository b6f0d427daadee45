// Package util holds small text helpers shared by the scorers and the CLI.
package util

import (
	"regexp"
	"strings"
)

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeWhitespace trims and collapses whitespace to single spaces.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// ContainsAnyCaseInsensitive returns true if text contains any of the needles (case-insensitive).
func ContainsAnyCaseInsensitive(text string, needles []string) bool {
	lt := strings.ToLower(text)
	for _, n := range needles {
		if n != "" && strings.Contains(lt, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// SplitList splits a comma separated list, dropping blanks and surrounding
// whitespace.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = NormalizeWhitespace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
