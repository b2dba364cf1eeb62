package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/rfalcao/conceptminer/internal/dispatch"
	"github.com/rfalcao/conceptminer/internal/domain"
)

// StubProvider fabricates deterministic extraction output from the
// payload text. It stands in for the reasoning service when no API key
// is configured, so local runs still exercise the full pipeline.
type StubProvider struct {
	costPerCall map[domain.Tier]float64
}

func NewStubProvider() *StubProvider {
	return &StubProvider{
		costPerCall: map[domain.Tier]float64{
			domain.TierSmall: 0.002,
			domain.TierBig:   0.03,
		},
	}
}

func (p *StubProvider) Call(_ context.Context, tier domain.Tier, payload []byte) (dispatch.ProviderResult, error) {
	if len(payload) == 0 {
		return dispatch.ProviderResult{}, &dispatch.Error{
			Code: dispatch.CodeMalformedRequest, Tier: tier, Message: "empty payload",
		}
	}

	var request struct {
		Segment string `json:"segment"`
	}
	text := string(payload)
	if err := json.Unmarshal(payload, &request); err == nil && request.Segment != "" {
		text = request.Segment
	}

	confidence := 0.72
	if tier == domain.TierBig {
		confidence = 0.88
	}

	candidates := make([]map[string]any, 0, 8)
	for _, term := range capitalizedTerms(text, 8) {
		candidates = append(candidates, map[string]any{
			"name":       term,
			"type":       "Concept",
			"definition": "Mentioned in source document.",
			"confidence": confidence,
		})
	}

	output, err := json.Marshal(candidates)
	if err != nil {
		return dispatch.ProviderResult{}, &dispatch.Error{
			Code: dispatch.CodeProviderError, Tier: tier, Message: "encode stub output", Err: err,
		}
	}

	return dispatch.ProviderResult{
		Output:  output,
		Cost:    p.costPerCall[tier],
		Latency: time.Millisecond,
	}, nil
}

// capitalizedTerms pulls runs of capitalized words as concept guesses.
func capitalizedTerms(text string, limit int) []string {
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
		key := strings.ToLower(term)
		if _, dup := seen[key]; dup || len(term) < 3 {
			return
		}
		seen[key] = struct{}{}
		terms = append(terms, term)
	}

	for _, word := range words {
		trimmed := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if trimmed == "" {
			flush()
			continue
		}
		first := []rune(trimmed)[0]
		if unicode.IsUpper(first) {
			run = append(run, trimmed)
			continue
		}
		flush()
		if len(terms) >= limit {
			break
		}
	}
	flush()

	if len(terms) > limit {
		terms = terms[:limit]
	}
	return terms
}
