package extract

import (
	"strings"
	"unicode"
)

// capitalizedRuns collects runs of capitalized words from text, deduped,
// capped at limit.
func capitalizedRuns(text string, limit int) []string {
	words := strings.Fields(text)
	terms := make([]string, 0, limit)
	seen := make(map[string]struct{})

	run := make([]string, 0, 4)
	flush := func() {
		if len(run) == 0 {
			return
		}
		term := strings.Join(run, " ")
		run = run[:0]
		if len(term) < 3 {
			return
		}
		key := strings.ToLower(term)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		terms = append(terms, term)
	}

	for _, word := range words {
		if len(terms) >= limit {
			break
		}
		trimmed := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if trimmed != "" && unicode.IsUpper([]rune(trimmed)[0]) {
			run = append(run, trimmed)
			continue
		}
		flush()
	}
	flush()

	if len(terms) > limit {
		terms = terms[:limit]
	}
	return terms
}
