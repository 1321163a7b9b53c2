package provider

import (
	"context"

	"github.com/attunehealth/attune/models"
)

// Embedder turns text into fixed-length vectors. The model is versioned; a
// dimensionality change requires full corpus re-embedding.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CrossEncoder scores a (query, document) pair jointly, returning a
// relevance value in [0,1].
type CrossEncoder interface {
	Score(ctx context.Context, query, docText string) (float64, error)
}

// RiskClassifier evaluates text for crisis risk. Used by both risk_detect
// and output_guard.
type RiskClassifier interface {
	Classify(ctx context.Context, text string) (models.RiskAssessment, error)
}

// Generator produces free-form text on the non-crisis path only. The core
// never invokes it on the crisis path.
type Generator interface {
	Generate(ctx context.Context, prompt string, contextDocs []string) (string, error)
}

// EscalationChannel accepts a structured SBAR handoff record. Delivery and
// paging mechanics live outside the core.
type EscalationChannel interface {
	Deliver(ctx context.Context, rec models.HandoffRecord) error
}
