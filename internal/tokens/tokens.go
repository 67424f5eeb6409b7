// Package tokens estimates model token counts for source text.
//
// The estimate approximates a BPE tokenizer on code: every punctuation rune
// is one token and every run of letters, digits or underscores costs one
// token per four runes. Whitespace is free, so the count of a text joined by
// newlines equals the sum of the counts of its lines.
package tokens

import "unicode"

const runesPerToken = 4

// Count returns the estimated token count of s.
func Count(s string) int {
	n, run := 0, 0
	for _, r := range s {
		switch {
		case isWord(r):
			run++
		default:
			n += wordTokens(run)
			run = 0
			if !unicode.IsSpace(r) {
				n++
			}
		}
	}
	return n + wordTokens(run)
}

// Truncate returns the longest prefix of s whose count does not exceed max.
// The cut never falls inside a word run.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n, run, runStart := 0, 0, 0
	for i, r := range s {
		if isWord(r) {
			if run == 0 {
				runStart = i
			}
			run++
			continue
		}
		if n+wordTokens(run) > max {
			return s[:runStart]
		}
		n += wordTokens(run)
		run = 0
		if !unicode.IsSpace(r) {
			if n+1 > max {
				return s[:i]
			}
			n++
		}
	}
	if n+wordTokens(run) > max {
		return s[:runStart]
	}
	return s
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func wordTokens(run int) int {
	if run == 0 {
		return 0
	}
	return (run + runesPerToken - 1) / runesPerToken
}
