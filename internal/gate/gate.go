package gate

import (
	"context"
	"log"
	"math"
	"strings"

	"github.com/rfalcao/conceptminer/internal/domain"
	"github.com/rfalcao/conceptminer/internal/policy"
)

// Scorer is the optional contextual-scorer collaborator. It judges how
// strongly a candidate belongs to the tenant's own domain versus a named
// rival's offering.
type Scorer interface {
	Score(ctx context.Context, candidate domain.Candidate, domainContext string) (domain.ContextScores, error)
}

type Evaluation struct {
	Promoted         []domain.Candidate
	Rejected         []domain.Candidate
	PromotionRate    float64
	RetryRecommended bool
}

type Config struct {
	Profile Profile
	// SignificantMargin is how far primary and competitor scores must
	// diverge before the contextual cascade adjusts confidence.
	SignificantMargin float64
	// DomainContext is passed through to the contextual scorer.
	DomainContext string
}

// Gate scores, filters and promotes candidates. It has no side effects
// beyond tagging each candidate with its terminal status: it never
// touches the ledger or the dispatcher, and evaluating the same input
// twice yields the same outcome.
type Gate struct {
	config Config
	scorer Scorer
	logger *log.Logger
}

func NewGate(config Config, scorer Scorer, logger *log.Logger) *Gate {
	if config.SignificantMargin <= 0 {
		config.SignificantMargin = 0.2
	}
	return &Gate{config: config, scorer: scorer, logger: logger}
}

func (g *Gate) Profile() Profile {
	return g.config.Profile
}

// Evaluate runs the full cascade over candidates: hard rejection rules,
// contextual confidence adjustment, then profile scoring. The input
// slice is not mutated; tagged copies come back in the evaluation.
func (g *Gate) Evaluate(ctx context.Context, candidates []domain.Candidate) Evaluation {
	evaluation := Evaluation{
		Promoted: make([]domain.Candidate, 0, len(candidates)),
		Rejected: make([]domain.Candidate, 0),
	}

	for _, candidate := range candidates {
		if reason, rejected := policy.RejectCandidateName(candidate.Name); rejected {
			candidate.Status = domain.CandidateStatusRejected
			candidate.RejectReason = reason
			evaluation.Rejected = append(evaluation.Rejected, candidate)
			continue
		}

		candidate.Confidence = g.adjustConfidence(ctx, &candidate)

		if reason, rejected := g.profileReject(candidate); rejected {
			candidate.Status = domain.CandidateStatusRejected
			candidate.RejectReason = reason
			evaluation.Rejected = append(evaluation.Rejected, candidate)
			continue
		}

		candidate.Status = domain.CandidateStatusPromoted
		evaluation.Promoted = append(evaluation.Promoted, candidate)
	}

	if len(candidates) > 0 {
		evaluation.PromotionRate = float64(len(evaluation.Promoted)) / float64(len(candidates))
	}
	evaluation.RetryRecommended = evaluation.PromotionRate < g.config.Profile.MinPromotionRate

	return evaluation
}

// adjustConfidence applies the contextual cascade: a candidate the scorer
// ties to the tenant's own domain is boosted toward 1.0, one tied to a
// competitor is pulled down, independent of its raw confidence.
func (g *Gate) adjustConfidence(ctx context.Context, candidate *domain.Candidate) float64 {
	scores := candidate.ContextScores
	if scores == nil && g.scorer != nil {
		scored, err := g.scorer.Score(ctx, *candidate, g.config.DomainContext)
		if err != nil {
			g.logf("contextual scoring failed candidate=%q: %v", candidate.Name, err)
		} else {
			scores = &scored
			candidate.ContextScores = &scored
		}
	}
	if scores == nil {
		return candidate.Confidence
	}

	margin := scores.Primary - scores.Competitor
	switch {
	case margin >= g.config.SignificantMargin:
		return clamp01(candidate.Confidence + (1-candidate.Confidence)*margin)
	case margin <= -g.config.SignificantMargin:
		return clamp01(candidate.Confidence * (1 + margin))
	default:
		return candidate.Confidence
	}
}

func (g *Gate) profileReject(candidate domain.Candidate) (string, bool) {
	profile := g.config.Profile
	if candidate.Confidence < profile.MinConfidence {
		return "below_min_confidence", true
	}
	for _, field := range profile.RequiredFields {
		if strings.TrimSpace(fieldValue(candidate, field)) == "" {
			return "missing_" + field, true
		}
	}
	return "", false
}

func fieldValue(candidate domain.Candidate, field string) string {
	switch field {
	case "name":
		return candidate.Name
	case "type":
		return candidate.Type
	case "definition":
		return candidate.Definition
	default:
		return ""
	}
}

func (g *Gate) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

func clamp01(value float64) float64 {
	return math.Max(0, math.Min(1, value))
}
