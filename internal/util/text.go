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

var httpLink = regexp.MustCompile(`https?://[^\s\x{00a0}]+`)

// FirstHTTPLink returns the first http(s) URL in text, or "" if there is none.
func FirstHTTPLink(text string) string {
	return httpLink.FindString(text)
}

// EndsWithWhitespace reports whether the last rune of s is whitespace.
// An empty string counts as whitespace so no separator is prepended at the
// start of a body.
func EndsWithWhitespace(s string) bool {
	if s == "" {
		return true
	}
	r := []rune(s)
	last := r[len(r)-1]
	return last == ' ' || last == '\n' || last == '\t' || last == ' '
}
