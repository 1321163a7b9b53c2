package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the retrieval and crisis packages.
var (
	// ErrDimensionMismatch signals an embedding contract violation between a
	// query vector and the deployed index. Fatal to the request; never coerced.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrRetrievalUnavailable marks a retrieval backend that is down or timed
	// out. Callers degrade to partial results.
	ErrRetrievalUnavailable = errors.New("retrieval backend unavailable")
	// ErrScoringDegraded marks a sub-signal scorer failure recovered via a
	// neutral default.
	ErrScoringDegraded = errors.New("scoring degraded")
	// ErrRiskDetection is fatal-to-the-turn: ambiguity about risk resolves
	// toward safety, never toward a default non-crisis reply.
	ErrRiskDetection = errors.New("risk detection failure")
	// ErrPolicyViolation is returned when the output guard rejects a composed
	// reply. The reply is discarded, never sent as-is.
	ErrPolicyViolation = errors.New("reply violates output policy")
	// ErrSessionNotFound is returned for turns against unknown sessions.
	ErrSessionNotFound = errors.New("session not found")
)

// RiskLevel is the discrete outcome of a risk assessment.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

var riskSeverity = map[RiskLevel]int{
	RiskNone:   0,
	RiskLow:    1,
	RiskMedium: 2,
	RiskHigh:   3,
}

// Severity orders risk levels; unknown levels rank above high so a
// misconfigured classifier fails toward caution.
func (l RiskLevel) Severity() int {
	if s, ok := riskSeverity[l]; ok {
		return s
	}
	return riskSeverity[RiskHigh] + 1
}

// AtLeast reports whether l is as severe as other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.Severity() >= other.Severity()
}

// Valid reports whether the level is one of the four defined bands.
func (l RiskLevel) Valid() bool {
	_, ok := riskSeverity[l]
	return ok
}

// Document is a retrievable unit of knowledge content. Documents are never
// mutated in place: re-ingestion bumps Version and retires the prior one.
type Document struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Text      string            `json:"text"`
	Embedding []float32         `json:"embedding,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Version   int               `json:"version"`
	Retired   bool              `json:"retired,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// PatientContext carries the optional per-user context attached to a query.
type PatientContext struct {
	Conditions  []string          `json:"conditions,omitempty"`
	Demographic string            `json:"demographic,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

// Query is a single retrieval request.
type Query struct {
	Text       string            `json:"text"`
	Embedding  []float32         `json:"embedding,omitempty"`
	Filters    map[string]string `json:"filters,omitempty"`
	TopK       int               `json:"top_k"`
	EmotionTag string            `json:"emotion_tag,omitempty"`
	Patient    *PatientContext   `json:"patient,omitempty"`
}

// Validate rejects queries the pipeline cannot serve.
func (q Query) Validate() error {
	if q.Text == "" {
		return fmt.Errorf("query text is required")
	}
	if q.TopK <= 0 {
		return fmt.Errorf("top_k must be > 0, got %d", q.TopK)
	}
	return nil
}

// Signal names attached to RankedCandidate.Signals. Raw signals are retained
// for auditability even after reranking overwrites Final.
const (
	SignalVectorSimilarity     = "vector_similarity"
	SignalTextRank             = "text_rank"
	SignalFused                = "fused"
	SignalCrossEncoder         = "cross_encoder"
	SignalMedicalOverlap       = "medical_overlap"
	SignalTherapeuticRelevance = "therapeutic_relevance"
	SignalPatientRelevance     = "patient_relevance"
	SignalEvidenceLevel        = "evidence_level"
	SignalSafety               = "safety"
)

// RankedCandidate is an intermediate result flowing through the pipeline.
// Request-scoped; optionally denormalized into the audit log as JSON.
type RankedCandidate struct {
	Document Document           `json:"document"`
	Signals  map[string]float64 `json:"signals"`
	Final    float64            `json:"final"`
	Rank     int                `json:"rank"`
}

// SetSignal records a raw score without ever discarding prior signals.
func (c *RankedCandidate) SetSignal(name string, value float64) {
	if c.Signals == nil {
		c.Signals = map[string]float64{}
	}
	c.Signals[name] = value
}

// RiskReason is one triggering reason behind an assessment.
type RiskReason struct {
	Tag  string `json:"tag"`
	Span string `json:"span"`
}

// RiskAssessment is the output of a risk evaluation. Computed fresh on every
// inbound utterance; never cached across turns.
type RiskAssessment struct {
	Level      RiskLevel    `json:"level"`
	Confidence float64      `json:"confidence"`
	Reasons    []RiskReason `json:"reasons,omitempty"`
	At         time.Time    `json:"at"`
}

// RiskEvent is the per-turn history entry persisted with session state.
type RiskEvent struct {
	At      time.Time    `json:"at"`
	Level   RiskLevel    `json:"level"`
	Reasons []RiskReason `json:"reasons,omitempty"`
}

// PolicyGraphState is the crisis state machine's record for one session.
type PolicyGraphState struct {
	SessionID       string      `json:"session_id"`
	CurrentNode     string      `json:"current_node"`
	VisitedNodes    []string    `json:"visited_nodes,omitempty"`
	RiskHistory     []RiskEvent `json:"risk_history,omitempty"`
	DisclosureShown bool        `json:"disclosure_shown"`
	DriftCount      int         `json:"drift_count"`
	EnteredAt       time.Time   `json:"entered_at"`
}

// HandoffRecord is the SBAR-style summary handed to the human escalation
// channel. The core's responsibility ends at producing this record.
type HandoffRecord struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Situation      string    `json:"situation"`
	Background     string    `json:"background"`
	Assessment     string    `json:"assessment"`
	Recommendation string    `json:"recommendation"`
	Priority       string    `json:"priority"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuditRecord holds the minimum fields necessary for compliance. It never
// carries the conversation transcript.
type AuditRecord struct {
	At              time.Time `json:"at"`
	RiskLevel       RiskLevel `json:"risk_level"`
	TriggerCategory string    `json:"trigger_category"`
	HandoffID       string    `json:"handoff_id,omitempty"`
}

// ReplyPath identifies which path produced the final reply.
type ReplyPath string

const (
	PathNormal   ReplyPath = "normal"
	PathCrisis   ReplyPath = "crisis"
	PathFallback ReplyPath = "fallback"
)

// Reply is the final payload assembled by the composer or the crisis path.
type Reply struct {
	Text      string    `json:"text"`
	Path      ReplyPath `json:"path"`
	Resources []string  `json:"resources,omitempty"`
}
