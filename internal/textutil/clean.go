package textutil

import (
	"regexp"
	"strings"
)

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	fillerPattern     = regexp.MustCompile(`(?i)\b(um|uh|hmm|hm)\b`)
)

// Clean normalizes transcript text: collapses whitespace and strips filler
// words common in speech recognition output.
func Clean(text string) string {
	text = strings.TrimSpace(text)
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = fillerPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}
