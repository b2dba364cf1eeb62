package policy

import "strings"

const (
	minNameLength = 3
	maxNameLength = 100
)

// stopwords are tokens that never qualify as knowledge-concept names on
// their own, regardless of the confidence the extractor assigned them.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "are": {},
	"was": {}, "were": {}, "has": {}, "have": {}, "had": {},
	"will": {}, "can": {}, "may": {}, "not": {}, "but": {},
	"all": {}, "any": {}, "its": {}, "our": {}, "you": {},
	"other": {}, "more": {}, "some": {}, "such": {}, "into": {},
	"about": {}, "also": {}, "than": {}, "then": {}, "when": {},
	"where": {}, "which": {}, "while": {}, "because": {},
}

// fragmentSuffixes catch word fragments produced by mid-token truncation
// in upstream segmentation, e.g. a candidate named "tion" or "ing".
var fragmentSuffixes = []string{
	"ing", "tion", "sion", "ment", "ness", "ance", "ence",
	"able", "ible", "ity", "ous", "ive", "ful", "less",
}

// RejectCandidateName applies the hard rejection rules that run before
// any profile scoring: length bounds, stopwords, suffix-only fragments
// and PII-looking names. It returns the rejection reason and whether the
// name must be rejected.
func RejectCandidateName(name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) < minNameLength {
		return "name_too_short", true
	}
	if len(trimmed) > maxNameLength {
		return "name_too_long", true
	}

	lowered := strings.ToLower(trimmed)
	if _, found := stopwords[lowered]; found {
		return "stopword", true
	}
	for _, suffix := range fragmentSuffixes {
		if lowered == suffix {
			return "word_fragment", true
		}
	}

	if category, found := DetectPII(trimmed); found {
		return "pii_" + category, true
	}

	return "", false
}
