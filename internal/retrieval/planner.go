package retrieval

import (
	"strings"

	"github.com/attunehealth/attune/models"
)

// PipelineDepth selects how many ranking stages a query flows through.
type PipelineDepth string

const (
	// DepthSingleStage runs keyword search only.
	DepthSingleStage PipelineDepth = "single_stage"
	// DepthTwoStage runs sparse and dense retrieval fused with RRF.
	DepthTwoStage PipelineDepth = "two_stage"
	// DepthFourStage adds cross-encoder reranking and therapeutic scoring.
	DepthFourStage PipelineDepth = "four_stage"
)

// Planner routes queries to a pipeline depth using a deterministic
// structural heuristic:
//
//   - at most singleStageMaxTokens tokens, no conjunctions, no domain
//     terms: single_stage
//   - more than fourStageMinTokens tokens, or two or more conjunctions, or
//     three or more domain terms: four_stage
//   - everything else, including anything unclassifiable: two_stage
//
// Plan is a pure function and never fails.
type Planner struct {
	domainTerms map[string]struct{}
}

const (
	singleStageMaxTokens = 4
	fourStageMinTokens   = 18
	fourStageMinDomain   = 3
	fourStageMinConj     = 2
)

var conjunctions = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "while": {}, "whereas": {},
	"because": {}, "although": {}, "however": {},
}

// Baseline vocabulary of domain-heavy terms; deployments extend it via
// retrieval.domain_terms.
var defaultDomainTerms = []string{
	"anxiety", "depression", "panic", "trauma", "ptsd", "grief",
	"insomnia", "mindfulness", "cbt", "dbt", "rumination", "burnout",
	"self-esteem", "medication", "therapy", "coping", "breathing",
	"grounding", "stress", "attachment",
}

func NewPlanner(extraTerms []string) *Planner {
	terms := make(map[string]struct{}, len(defaultDomainTerms)+len(extraTerms))
	for _, t := range defaultDomainTerms {
		terms[t] = struct{}{}
	}
	for _, t := range extraTerms {
		terms[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return &Planner{domainTerms: terms}
}

// Plan classifies a query into a pipeline depth.
func (p *Planner) Plan(q models.Query) PipelineDepth {
	tokens := tokenize(q.Text)
	if len(tokens) == 0 {
		return DepthTwoStage
	}

	var conj, domain int
	for _, tok := range tokens {
		if _, ok := conjunctions[tok]; ok {
			conj++
		}
		if _, ok := p.domainTerms[tok]; ok {
			domain++
		}
	}

	if len(tokens) > fourStageMinTokens || conj >= fourStageMinConj || domain >= fourStageMinDomain {
		return DepthFourStage
	}
	if len(tokens) <= singleStageMaxTokens && conj == 0 && domain == 0 {
		return DepthSingleStage
	}
	return DepthTwoStage
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
