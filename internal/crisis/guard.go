package crisis

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/attunehealth/attune/config"
	"github.com/attunehealth/attune/models"
)

// Guard violation kinds reported by Inspect.
const (
	ViolationRiskDrift     = "risk_drift"
	ViolationSentenceCount = "sentence_count"
	ViolationActionOffers  = "action_offers"
	ViolationDiagnostic    = "diagnostic_language"
)

// GuardResult is the output-guard verdict for one composed reply.
type GuardResult struct {
	OK         bool
	Drift      bool
	Violations []string
}

// Guard is the second risk check, run after normal-path composition. It
// re-scans generated text for risk the generation step may have introduced,
// and enforces the uniform reply rules: sentence budget, at most one action
// offer, and a hard block on diagnostic or treatment-advice language.
type Guard struct {
	detector     *Detector
	maxSentences int
	maxOffers    int
	logger       *log.Logger
}

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+`)

	actionOfferPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bwould you like\b`),
		regexp.MustCompile(`(?i)\bshall we\b`),
		regexp.MustCompile(`(?i)\bdo you want (to|me)\b`),
		regexp.MustCompile(`(?i)\bhow about we\b`),
		regexp.MustCompile(`(?i)\bwant to try\b`),
	}

	diagnosticPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\byou (probably |likely |clearly )?(have|suffer from)\s+(a |an )?\w+ (disorder|syndrome|condition)\b`),
		regexp.MustCompile(`(?i)\bI('| a)?m diagnosing\b|\byour diagnosis\b|\bdiagnose[sd]? you\b`),
		regexp.MustCompile(`(?i)\byou should (take|stop taking|increase|decrease)\b.{0,40}\b(medication|dose|dosage|mg|pills?)\b`),
		regexp.MustCompile(`(?i)\b(prescrib\w+|recommended dose)\b`),
	}
)

func NewGuard(detector *Detector, cfg config.CrisisConfig, logger *log.Logger) *Guard {
	if logger == nil {
		logger = log.New(log.Writer(), "[GUARD] ", log.LstdFlags)
	}
	maxOffers := cfg.MaxActionOffers
	if maxOffers < 0 {
		maxOffers = 1
	}
	return &Guard{
		detector:     detector,
		maxSentences: cfg.MaxSentences,
		maxOffers:    maxOffers,
		logger:       logger,
	}
}

// Inspect re-scans a composed reply before emission. The risk re-scan is
// safety-critical: an error here is fatal to the turn and the caller must
// fall back to caution language. Rule breaches are reported for the caller
// to repair or discard the reply; it is never sent as-is.
func (g *Guard) Inspect(ctx context.Context, reply string) (GuardResult, error) {
	res := GuardResult{OK: true}

	assessment, err := g.detector.Assess(ctx, reply)
	if err != nil {
		return GuardResult{}, fmt.Errorf("output guard risk re-scan: %w", err)
	}
	if assessment.Level.AtLeast(models.RiskMedium) || HasPatternReason(assessment) {
		res.OK = false
		res.Drift = true
		res.Violations = append(res.Violations, ViolationRiskDrift)
	}

	if CountSentences(reply) > g.maxSentences {
		res.OK = false
		res.Violations = append(res.Violations, ViolationSentenceCount)
	}
	if countActionOffers(reply) > g.maxOffers {
		res.OK = false
		res.Violations = append(res.Violations, ViolationActionOffers)
	}
	for _, p := range diagnosticPatterns {
		if p.MatchString(reply) {
			res.OK = false
			res.Violations = append(res.Violations, ViolationDiagnostic)
			break
		}
	}
	if !res.OK {
		g.logger.Printf("reply rejected: %v (%v)", res.Violations, models.ErrPolicyViolation)
	}
	return res, nil
}

// Truncate cuts a reply down to the sentence budget, preserving terminal
// punctuation.
func (g *Guard) Truncate(reply string) string {
	return TruncateSentences(reply, g.maxSentences)
}

// TruncateSentences cuts text down to at most max sentences, preserving
// terminal punctuation.
func TruncateSentences(text string, max int) string {
	if max <= 0 {
		return ""
	}
	var out strings.Builder
	count := 0
	start := 0
	for _, loc := range sentenceSplit.FindAllStringIndex(text, -1) {
		out.WriteString(text[start:loc[1]])
		start = loc[1]
		count++
		if count >= max {
			return strings.TrimSpace(out.String())
		}
	}
	return strings.TrimSpace(text)
}

// CountSentences counts sentence terminators, treating trailing text
// without punctuation as one more sentence.
func CountSentences(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	terms := sentenceSplit.FindAllStringIndex(text, -1)
	n := len(terms)
	if n == 0 {
		return 1
	}
	last := terms[n-1]
	if strings.TrimSpace(text[last[1]:]) != "" {
		n++
	}
	return n
}

func countActionOffers(text string) int {
	var n int
	for _, p := range actionOfferPatterns {
		n += len(p.FindAllStringIndex(text, -1))
	}
	return n
}
