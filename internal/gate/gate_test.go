package gate

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rfalcao/conceptminer/internal/domain"
)

func candidate(name string, confidence float64) domain.Candidate {
	return domain.Candidate{
		Name:       name,
		Type:       "Concept",
		Definition: "A thing worth keeping.",
		Confidence: confidence,
	}
}

func TestEvaluatePromotesByProfileThreshold(t *testing.T) {
	g := NewGate(Config{Profile: ProfileBalanced}, nil, nil)

	evaluation := g.Evaluate(context.Background(), []domain.Candidate{
		candidate("Vector Index", 0.80),
		candidate("Sharding Strategy", 0.65),
	})

	if len(evaluation.Promoted) != 1 || evaluation.Promoted[0].Name != "Vector Index" {
		t.Fatalf("expected only the confident candidate promoted, got %+v", evaluation.Promoted)
	}
	if len(evaluation.Rejected) != 1 || evaluation.Rejected[0].RejectReason != "below_min_confidence" {
		t.Fatalf("expected low-confidence rejection, got %+v", evaluation.Rejected)
	}
	if evaluation.Promoted[0].Status != domain.CandidateStatusPromoted {
		t.Fatalf("expected promoted status tag")
	}
}

func TestEvaluateRequiredFieldsPerProfile(t *testing.T) {
	noDefinition := domain.Candidate{Name: "Query Planner", Type: "Concept", Confidence: 0.95}

	strict := NewGate(Config{Profile: ProfileStrict}, nil, nil)
	evaluation := strict.Evaluate(context.Background(), []domain.Candidate{noDefinition})
	if len(evaluation.Rejected) != 1 || evaluation.Rejected[0].RejectReason != "missing_definition" {
		t.Fatalf("expected strict profile to require definition, got %+v", evaluation.Rejected)
	}

	balanced := NewGate(Config{Profile: ProfileBalanced}, nil, nil)
	evaluation = balanced.Evaluate(context.Background(), []domain.Candidate{noDefinition})
	if len(evaluation.Promoted) != 1 {
		t.Fatalf("expected balanced profile to accept missing definition, got %+v", evaluation.Rejected)
	}
}

func TestEvaluateHardRejectsBeforeScoring(t *testing.T) {
	g := NewGate(Config{Profile: ProfilePermissive}, nil, nil)

	evaluation := g.Evaluate(context.Background(), []domain.Candidate{
		candidate("ab", 0.99),
		candidate("the", 0.99),
		candidate("tion", 0.99),
		candidate("user@example.com", 0.99),
	})

	if len(evaluation.Promoted) != 0 {
		t.Fatalf("expected every candidate hard-rejected, got %+v", evaluation.Promoted)
	}
	reasons := map[string]bool{}
	for _, rejected := range evaluation.Rejected {
		reasons[rejected.RejectReason] = true
	}
	for _, want := range []string{"name_too_short", "stopword", "word_fragment", "pii_email"} {
		if !reasons[want] {
			t.Fatalf("expected reason %s, got %v", want, reasons)
		}
	}
}

func TestContextualBoostPromotesBorderlineCandidate(t *testing.T) {
	g := NewGate(Config{Profile: ProfileBalanced, SignificantMargin: 0.2}, nil, nil)

	boosted := candidate("Routing Mesh", 0.60)
	boosted.ContextScores = &domain.ContextScores{Primary: 0.9, Competitor: 0.3}

	evaluation := g.Evaluate(context.Background(), []domain.Candidate{boosted})
	if len(evaluation.Promoted) != 1 {
		t.Fatalf("expected contextual boost to promote, got %+v", evaluation.Rejected)
	}
	// margin 0.6: 0.60 + 0.40*0.6 = 0.84
	if got := evaluation.Promoted[0].Confidence; math.Abs(got-0.84) > 1e-9 {
		t.Fatalf("expected boosted confidence 0.84, got %.4f", got)
	}
}

func TestContextualPenaltyRejectsCompetitorCandidate(t *testing.T) {
	g := NewGate(Config{Profile: ProfileBalanced, SignificantMargin: 0.2}, nil, nil)

	penalized := candidate("Rival Feature", 0.80)
	penalized.ContextScores = &domain.ContextScores{Primary: 0.2, Competitor: 0.7}

	evaluation := g.Evaluate(context.Background(), []domain.Candidate{penalized})
	if len(evaluation.Rejected) != 1 {
		t.Fatalf("expected contextual penalty to reject, got %+v", evaluation.Promoted)
	}
	// margin -0.5: 0.80 * 0.5 = 0.40
	if got := evaluation.Rejected[0].Confidence; math.Abs(got-0.40) > 1e-9 {
		t.Fatalf("expected penalized confidence 0.40, got %.4f", got)
	}
}

func TestInsignificantMarginLeavesConfidenceUntouched(t *testing.T) {
	g := NewGate(Config{Profile: ProfileBalanced, SignificantMargin: 0.2}, nil, nil)

	neutral := candidate("Storage Engine", 0.75)
	neutral.ContextScores = &domain.ContextScores{Primary: 0.55, Competitor: 0.45}

	evaluation := g.Evaluate(context.Background(), []domain.Candidate{neutral})
	if len(evaluation.Promoted) != 1 || evaluation.Promoted[0].Confidence != 0.75 {
		t.Fatalf("expected untouched confidence 0.75, got %+v", evaluation)
	}
}

type stubScorer struct {
	scores domain.ContextScores
	err    error
}

func (s stubScorer) Score(context.Context, domain.Candidate, string) (domain.ContextScores, error) {
	return s.scores, s.err
}

func TestScorerInvokedWhenScoresAbsent(t *testing.T) {
	scorer := stubScorer{scores: domain.ContextScores{Primary: 0.9, Competitor: 0.1}}
	g := NewGate(Config{Profile: ProfilePermissive}, scorer, nil)

	evaluation := g.Evaluate(context.Background(), []domain.Candidate{candidate("Index Rebuild", 0.50)})
	if len(evaluation.Promoted) != 1 {
		t.Fatalf("expected scorer boost to promote, got %+v", evaluation.Rejected)
	}
	if evaluation.Promoted[0].ContextScores == nil {
		t.Fatalf("expected scorer result attached to candidate")
	}
}

func TestScorerFailureFallsBackToRawConfidence(t *testing.T) {
	scorer := stubScorer{err: errors.New("scorer down")}
	g := NewGate(Config{Profile: ProfileBalanced}, scorer, nil)

	evaluation := g.Evaluate(context.Background(), []domain.Candidate{candidate("Compaction", 0.75)})
	if len(evaluation.Promoted) != 1 || evaluation.Promoted[0].Confidence != 0.75 {
		t.Fatalf("expected raw confidence on scorer failure, got %+v", evaluation)
	}
}

func TestRetryRecommendedOnLowPromotionRate(t *testing.T) {
	g := NewGate(Config{Profile: ProfileBalanced}, nil, nil)

	evaluation := g.Evaluate(context.Background(), []domain.Candidate{
		candidate("Good One", 0.90),
		candidate("weak", 0.10),
		candidate("weaker", 0.10),
		candidate("weakest", 0.10),
		candidate("feeble", 0.10),
	})
	// 1/5 promoted is below the balanced profile's 0.30 floor.
	if !evaluation.RetryRecommended {
		t.Fatalf("expected retry recommendation at promotion rate %.2f", evaluation.PromotionRate)
	}
}

func TestEvaluateIsIdempotentAndDoesNotMutateInput(t *testing.T) {
	g := NewGate(Config{Profile: ProfileBalanced}, nil, nil)
	input := []domain.Candidate{candidate("Replication Log", 0.80)}

	first := g.Evaluate(context.Background(), input)
	second := g.Evaluate(context.Background(), input)

	if input[0].Status != "" || input[0].RejectReason != "" {
		t.Fatalf("expected input untouched, got %+v", input[0])
	}
	if len(first.Promoted) != len(second.Promoted) || first.PromotionRate != second.PromotionRate {
		t.Fatalf("expected identical evaluations, got %+v vs %+v", first, second)
	}
}

func TestProfileByName(t *testing.T) {
	if profile, err := ProfileByName(""); err != nil || profile.Name != "balanced" {
		t.Fatalf("expected empty name to default to balanced, got %+v err=%v", profile, err)
	}
	if profile, err := ProfileByName("STRICT"); err != nil || profile.Name != "strict" {
		t.Fatalf("expected case-insensitive lookup, got %+v err=%v", profile, err)
	}
	if _, err := ProfileByName("bogus"); err == nil {
		t.Fatalf("expected error for unknown profile")
	}
}
