package domain

import (
	"encoding/json"
	"time"
)

// Tier is a cost/quality level of processing mapped to a specific
// reasoning-service configuration.
type Tier string

const (
	TierNoLLM Tier = "no_llm"
	TierSmall Tier = "small"
	TierBig   Tier = "big"
)

// Tiers lists every tier from cheapest to most expensive.
var Tiers = []Tier{TierNoLLM, TierSmall, TierBig}

// TierRank orders tiers by cost. Unknown tiers rank below the free path.
func TierRank(tier Tier) int {
	switch tier {
	case TierNoLLM:
		return 0
	case TierSmall:
		return 1
	case TierBig:
		return 2
	default:
		return -1
	}
}

// NextTierUp returns the next more expensive tier, saturating at the top.
func NextTierUp(tier Tier) Tier {
	switch tier {
	case TierNoLLM:
		return TierSmall
	default:
		return TierBig
	}
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// DocumentJob is the persisted record of one document extraction run.
type DocumentJob struct {
	ID           string
	DocumentID   string
	TenantID     string
	Text         string
	Background   bool
	Status       JobStatus
	Result       json.RawMessage
	ErrorMessage string
	Attempts     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// QueueMessage is the transport format sent to queue backends.
type QueueMessage struct {
	JobID       string    `json:"job_id"`
	DocumentID  string    `json:"document_id"`
	TenantID    string    `json:"tenant_id"`
	Text        string    `json:"text"`
	Background  bool      `json:"background"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}

// Segment is an opaque unit of document text. EntityCount is a density
// hint computed by the upstream entity-recognition pass.
type Segment struct {
	Text        string
	EntityCount int
	TokenLength int
}

type CandidateStatus string

const (
	CandidateStatusPending  CandidateStatus = "pending"
	CandidateStatusPromoted CandidateStatus = "promoted"
	CandidateStatusRejected CandidateStatus = "rejected"
)

// ContextScores carries the contextual scorer's judgement of how strongly
// a candidate belongs to the tenant's own domain versus a rival's.
type ContextScores struct {
	Primary    float64 `json:"primary"`
	Competitor float64 `json:"competitor"`
}

// Candidate is a proposed knowledge item awaiting quality-gate judgement.
// Candidates are never deleted: the gate tags them promoted or rejected.
type Candidate struct {
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	Definition    string          `json:"definition,omitempty"`
	Confidence    float64         `json:"confidence"`
	ContextScores *ContextScores  `json:"context_scores,omitempty"`
	SourceSegment int             `json:"source_segment"`
	Status        CandidateStatus `json:"status,omitempty"`
	RejectReason  string          `json:"reject_reason,omitempty"`
}

// JobResult is the well-formed outcome every run produces, success or not.
type JobResult struct {
	Promoted     []Candidate  `json:"promoted"`
	Rejected     []Candidate  `json:"rejected"`
	CostIncurred float64      `json:"cost_incurred"`
	CallsPerTier map[Tier]int `json:"calls_per_tier"`
	Steps        int          `json:"steps"`
	FinalState   string       `json:"final_state"`
	Errors       []string     `json:"errors"`
}
