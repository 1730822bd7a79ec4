package textutil

import (
	"regexp"
	"strings"
)

var (
	sentencePattern = regexp.MustCompile(`(?s)(.*?[.!?])(?:\s+|$)`)
	clausePattern   = regexp.MustCompile(`(?s)(.*?[,;:])(?:\s+|$)`)
)

// SplitForSynthesis splits text into chunks no longer than maxChars,
// preferring sentence boundaries and falling back to clause boundaries when a
// single sentence exceeds the limit.
func SplitForSynthesis(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 || len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	var current string

	flush := func() {
		if trimmed := strings.TrimSpace(current); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		current = ""
	}

	for _, sentence := range splitBoundaries(text, sentencePattern) {
		if len(sentence) > maxChars {
			flush()
			for _, clause := range splitBoundaries(sentence, clausePattern) {
				if len(current)+len(clause)+1 <= maxChars {
					current = strings.TrimSpace(current + " " + clause)
				} else {
					flush()
					current = clause
				}
			}
			continue
		}
		if len(current)+len(sentence)+1 <= maxChars {
			current = strings.TrimSpace(current + " " + sentence)
		} else {
			flush()
			current = sentence
		}
	}
	flush()

	return chunks
}

// splitBoundaries splits text at the pattern's boundary groups, keeping the
// delimiter with the preceding fragment. Trailing text without a delimiter is
// returned as a final fragment.
func splitBoundaries(text string, pattern *regexp.Regexp) []string {
	var parts []string
	rest := text
	for {
		loc := pattern.FindStringSubmatchIndex(rest)
		if loc == nil || loc[1] == 0 {
			break
		}
		part := strings.TrimSpace(rest[loc[2]:loc[3]])
		if part != "" {
			parts = append(parts, part)
		}
		rest = rest[loc[1]:]
		if rest == "" {
			break
		}
	}
	if trimmed := strings.TrimSpace(rest); trimmed != "" {
		parts = append(parts, trimmed)
	}
	return parts
}
