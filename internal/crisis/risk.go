package crisis

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/attunehealth/attune/models"
	"github.com/attunehealth/attune/provider"
)

// heuristicPattern is one fixed crisis indicator. Patterns are evaluated on
// every inbound utterance alongside the external classifier; either source
// can raise the assessed level, never lower it.
type heuristicPattern struct {
	tag     string
	level   models.RiskLevel
	pattern *regexp.Regexp
}

var heuristicPatterns = []heuristicPattern{
	{
		tag:   "self_harm_intent",
		level: models.RiskHigh,
		pattern: regexp.MustCompile(`(?i)\b(kill(ing)?\s+myself|end(ing)?\s+my\s+(own\s+)?life|suicid\w*|want(ed)?\s+to\s+die|better\s+off\s+dead|don'?t\s+want\s+to\s+(live|be\s+alive))`),
	},
	{
		tag:   "self_harm_plan",
		level: models.RiskHigh,
		pattern: regexp.MustCompile(`(?i)\bplan(s|ned|ning)?\b[^.!?]{0,40}\b(hurt|kill|harm|cut|end)\w*\s+(myself|my\s+life|me)\b`),
	},
	{
		tag:   "means_access",
		level: models.RiskHigh,
		pattern: regexp.MustCompile(`(?i)\b(stockpil\w+|saved\s+up)\s+(my\s+)?(pills|medication)|bought\s+a\s+(gun|rope)|access\s+to\s+a\s+(gun|weapon|firearm)\b`),
	},
	{
		tag:   "recent_attempt",
		level: models.RiskHigh,
		pattern: regexp.MustCompile(`(?i)\b(tried\s+to\s+(kill|hurt)\s+myself|attempted\s+suicide|took\s+too\s+many\s+pills|overdosed)\b`),
	},
	{
		tag:   "hopelessness",
		level: models.RiskMedium,
		pattern: regexp.MustCompile(`(?i)\b(no\s+way\s+out|nothing\s+left\s+(for\s+me|to\s+live\s+for)|completely\s+hopeless|no\s+point\s+(in\s+)?(going\s+on|living))\b`),
	},
	{
		tag:   "self_care_collapse",
		level: models.RiskMedium,
		pattern: regexp.MustCompile(`(?i)\b(can'?t\s+(take\s+care\s+of|feed|look\s+after)\s+myself|haven'?t\s+(eaten|slept)\s+in\s+days)\b`),
	},
	{
		tag:   "abuse_in_progress",
		level: models.RiskHigh,
		pattern: regexp.MustCompile(`(?i)\b((is|are|keeps?)\s+(hitting|hurting|threatening)\s+me|being\s+abused|afraid\s+to\s+go\s+home)\b`),
	},
	{
		tag:   "threats_to_others",
		level: models.RiskHigh,
		pattern: regexp.MustCompile(`(?i)\b(going\s+to|want\s+to|plan\s+to)\s+(hurt|kill)\s+(someone|somebody|him|her|them)\b`),
	},
}

// Detector assesses inbound text for crisis risk. It combines the fixed
// heuristic patterns with the external classifier; classifier failure is
// fatal only when no pattern matched, since ambiguity about risk must
// resolve toward safety.
type Detector struct {
	classifier provider.RiskClassifier
	extra      []heuristicPattern
	logger     *log.Logger
}

func NewDetector(classifier provider.RiskClassifier, extraPatterns []string, logger *log.Logger) (*Detector, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[RISK] ", log.LstdFlags)
	}
	extra := make([]heuristicPattern, 0, len(extraPatterns))
	for _, raw := range extraPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("crisis.extra_patterns: %w", err)
		}
		extra = append(extra, heuristicPattern{tag: "configured", level: models.RiskHigh, pattern: re})
	}
	return &Detector{classifier: classifier, extra: extra, logger: logger}, nil
}

// Assess computes a fresh risk assessment for the utterance. Results are
// never cached across turns.
func (d *Detector) Assess(ctx context.Context, text string) (models.RiskAssessment, error) {
	level := models.RiskNone
	var reasons []models.RiskReason

	scan := func(p heuristicPattern) {
		if span := p.pattern.FindString(text); span != "" {
			reasons = append(reasons, models.RiskReason{Tag: p.tag, Span: span})
			if p.level.Severity() > level.Severity() {
				level = p.level
			}
		}
	}
	for _, p := range heuristicPatterns {
		scan(p)
	}
	for _, p := range d.extra {
		scan(p)
	}

	confidence := 0.0
	if len(reasons) > 0 {
		confidence = 0.95
	}

	if d.classifier != nil {
		assessment, err := d.classifier.Classify(ctx, text)
		if err != nil {
			if len(reasons) == 0 {
				return models.RiskAssessment{}, fmt.Errorf("%w: %v", models.ErrRiskDetection, err)
			}
			// Pattern evidence stands on its own; the classifier outage is
			// logged and the heuristic result is used.
			d.logger.Printf("classifier unavailable, using heuristic assessment: %v", err)
		} else {
			if assessment.Level.Severity() > level.Severity() {
				level = assessment.Level
			}
			if assessment.Confidence > confidence {
				confidence = assessment.Confidence
			}
			reasons = append(reasons, assessment.Reasons...)
		}
	}

	return models.RiskAssessment{
		Level:      level,
		Confidence: confidence,
		Reasons:    reasons,
		At:         time.Now(),
	}, nil
}

// HasPatternReason reports whether any fixed heuristic pattern fired. The
// crisis gate transitions on this regardless of the classifier's level.
func HasPatternReason(a models.RiskAssessment) bool {
	tags := map[string]struct{}{}
	for _, p := range heuristicPatterns {
		tags[p.tag] = struct{}{}
	}
	for _, r := range a.Reasons {
		if _, ok := tags[r.Tag]; ok {
			return true
		}
		if r.Tag == "configured" {
			return true
		}
	}
	return false
}
