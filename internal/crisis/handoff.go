package crisis

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/attunehealth/attune/models"
)

// Handoff priorities understood by the escalation channel.
const (
	PriorityImmediate = "immediate"
	PriorityUrgent    = "urgent"
	PriorityReview    = "review"
)

// BuildHandoff constructs the SBAR summary for the escalation channel. It
// carries triggering categories and the assessed level, never the raw
// conversation transcript.
func BuildHandoff(sessionID string, a models.RiskAssessment, turns int) models.HandoffRecord {
	tags := make([]string, 0, len(a.Reasons))
	seen := map[string]struct{}{}
	for _, r := range a.Reasons {
		if _, ok := seen[r.Tag]; ok {
			continue
		}
		seen[r.Tag] = struct{}{}
		tags = append(tags, r.Tag)
	}
	category := "unspecified"
	if len(tags) > 0 {
		category = strings.Join(tags, ", ")
	}

	priority := PriorityUrgent
	if a.Level == models.RiskHigh {
		priority = PriorityImmediate
	}

	return models.HandoffRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Situation: fmt.Sprintf("Companion session flagged %s risk (confidence %.2f).", a.Level, a.Confidence),
		Background: fmt.Sprintf("Session has %d risk events on record; crisis playbook engaged on the current turn.",
			turns),
		Assessment:     fmt.Sprintf("Triggering categories: %s.", category),
		Recommendation: "Human counselor follow-up; safety script and crisis resource already delivered.",
		Priority:       priority,
		CreatedAt:      time.Now(),
	}
}

// BuildDriftEscalation is the review handoff emitted when output-guard drift
// recurs within a session past the configured threshold.
func BuildDriftEscalation(sessionID string, driftCount int) models.HandoffRecord {
	return models.HandoffRecord{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Situation:      fmt.Sprintf("Output guard discarded %d generated replies in one session.", driftCount),
		Background:     "Generated replies repeatedly re-introduced risk phrases after passing the inbound crisis gate.",
		Assessment:     "Possible generation drift; session pinned to scripted replies pending review.",
		Recommendation: "Human review of session guardrail configuration.",
		Priority:       PriorityReview,
		CreatedAt:      time.Now(),
	}
}
