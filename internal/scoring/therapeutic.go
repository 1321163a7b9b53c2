package scoring

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/attunehealth/attune/config"
	"github.com/attunehealth/attune/models"
	"github.com/attunehealth/attune/provider"
)

// Therapeutic computes the post-rank composite score: a fixed weighted sum
// of sub-signals, each in [0,1]. A sub-signal that fails or times out
// contributes the configured neutral default instead of aborting the
// composite.
type Therapeutic struct {
	cfg        config.ScoringConfig
	terms      map[string]struct{}
	classifier provider.RiskClassifier
	logger     *log.Logger
}

// NewTherapeutic builds the scorer. domainTerms is the vocabulary used for
// the domain-overlap sub-signal; classifier backs the content-safety
// sub-signal and may be nil (neutral contribution).
func NewTherapeutic(cfg config.ScoringConfig, domainTerms []string, classifier provider.RiskClassifier, logger *log.Logger) (*Therapeutic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SCORING] ", log.LstdFlags)
	}
	terms := make(map[string]struct{}, len(domainTerms))
	for _, t := range domainTerms {
		terms[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return &Therapeutic{cfg: cfg, terms: terms, classifier: classifier, logger: logger}, nil
}

// Score computes the composite for one candidate, retaining every raw
// sub-signal on the candidate, and overwrites Final with the composite.
func (t *Therapeutic) Score(ctx context.Context, q models.Query, c models.RankedCandidate) models.RankedCandidate {
	semantic := t.semantic(c)
	overlap := t.domainOverlap(q, c)
	fit := t.contextFit(q, c)
	patient := t.patientRelevance(q, c)
	evidence := t.evidenceLevel(c)
	safety := t.contentSafety(ctx, c)

	c.SetSignal(models.SignalMedicalOverlap, overlap)
	c.SetSignal(models.SignalTherapeuticRelevance, fit)
	c.SetSignal(models.SignalPatientRelevance, patient)
	c.SetSignal(models.SignalEvidenceLevel, evidence)
	c.SetSignal(models.SignalSafety, safety)

	c.Final = t.cfg.Semantic*semantic +
		t.cfg.DomainOverlap*overlap +
		t.cfg.ContextFit*fit +
		t.cfg.PatientRelevance*patient +
		t.cfg.EvidenceLevel*evidence +
		t.cfg.ContentSafety*safety
	return c
}

// semantic prefers the cross-encoder signal, falling back to normalized
// vector similarity, then to neutral.
func (t *Therapeutic) semantic(c models.RankedCandidate) float64 {
	if v, ok := c.Signals[models.SignalCrossEncoder]; ok {
		return clamp(v)
	}
	if v, ok := c.Signals[models.SignalVectorSimilarity]; ok {
		return clamp(v)
	}
	return t.cfg.NeutralDefault
}

// domainOverlap measures how much of the query's domain vocabulary the
// document covers.
func (t *Therapeutic) domainOverlap(q models.Query, c models.RankedCandidate) float64 {
	queryTerms := t.domainTermsIn(q.Text)
	if len(queryTerms) == 0 {
		return t.cfg.NeutralDefault
	}
	docTerms := t.domainTermsIn(c.Document.Title + " " + c.Document.Text)
	var hit int
	for term := range queryTerms {
		if _, ok := docTerms[term]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(queryTerms))
}

func (t *Therapeutic) domainTermsIn(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,!?;:\"'()[]")
		if _, ok := t.terms[f]; ok {
			out[f] = struct{}{}
		}
	}
	return out
}

// contextFit matches the detected emotional state against the document's
// emotion tags.
func (t *Therapeutic) contextFit(q models.Query, c models.RankedCandidate) float64 {
	if q.EmotionTag == "" {
		return t.cfg.NeutralDefault
	}
	tags, ok := c.Document.Metadata["emotions"]
	if !ok {
		return t.cfg.NeutralDefault
	}
	for _, tag := range strings.Split(tags, ",") {
		if strings.TrimSpace(tag) == q.EmotionTag {
			return 1.0
		}
	}
	return 0.2
}

// patientRelevance measures condition overlap with the patient context.
func (t *Therapeutic) patientRelevance(q models.Query, c models.RankedCandidate) float64 {
	if q.Patient == nil || len(q.Patient.Conditions) == 0 {
		return t.cfg.NeutralDefault
	}
	raw, ok := c.Document.Metadata["conditions"]
	if !ok {
		return t.cfg.NeutralDefault
	}
	docConds := map[string]struct{}{}
	for _, cond := range strings.Split(raw, ",") {
		docConds[strings.TrimSpace(strings.ToLower(cond))] = struct{}{}
	}
	var hit int
	for _, cond := range q.Patient.Conditions {
		if _, ok := docConds[strings.ToLower(cond)]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(q.Patient.Conditions))
}

var evidenceScores = map[string]float64{
	"systematic_review": 1.0,
	"meta_analysis":     1.0,
	"rct":               0.9,
	"cohort":            0.7,
	"case_series":       0.5,
	"expert_opinion":    0.4,
	"anecdotal":         0.2,
}

// evidenceLevel maps the document's evidence tier onto [0,1].
func (t *Therapeutic) evidenceLevel(c models.RankedCandidate) float64 {
	if v, ok := evidenceScores[c.Document.Metadata["evidence_level"]]; ok {
		return v
	}
	return t.cfg.NeutralDefault
}

var safetyScores = map[models.RiskLevel]float64{
	models.RiskNone:   1.0,
	models.RiskLow:    0.7,
	models.RiskMedium: 0.3,
	models.RiskHigh:   0.0,
}

// contentSafety gates candidate content through the risk classifier. This is
// the only sub-signal that suspends; it carries its own timeout and degrades
// to neutral on failure.
func (t *Therapeutic) contentSafety(ctx context.Context, c models.RankedCandidate) float64 {
	if t.classifier == nil {
		return t.cfg.NeutralDefault
	}
	timeout := t.cfg.SignalTimeout
	if timeout <= 0 {
		timeout = 150 * time.Millisecond
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	assessment, err := t.classifier.Classify(sctx, c.Document.Text)
	if err != nil {
		t.logger.Printf("content safety signal degraded for %s: %v (%v)",
			c.Document.ID, err, models.ErrScoringDegraded)
		return t.cfg.NeutralDefault
	}
	if v, ok := safetyScores[assessment.Level]; ok {
		return v
	}
	return 0
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
