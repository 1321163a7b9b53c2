package compose

import (
	"fmt"
	"strings"

	"github.com/attunehealth/attune/models"
)

// Response policies selectable on the normal path.
const (
	PolicyValidate        = "validate"
	PolicyGrounding       = "grounding"
	PolicyActivation      = "behavioral_activation"
	PolicyPsychoeducation = "psychoeducation"
)

// emotionLexicon maps surface vocabulary to a coarse emotional tag. This is
// a cheap deterministic stand-in for a model-based detector: emotion
// inference only enhances retrieval and policy choice, so a miss costs
// nothing but specificity.
var emotionLexicon = map[string]string{
	"anxious": "anxious", "anxiety": "anxious", "worried": "anxious",
	"nervous": "anxious", "panic": "anxious", "panicking": "anxious",
	"overwhelmed": "anxious",
	"sad": "sad", "down": "sad", "depressed": "sad", "crying": "sad",
	"empty": "sad", "numb": "sad",
	"angry": "angry", "furious": "angry", "frustrated": "angry",
	"lonely": "lonely", "alone": "lonely", "isolated": "lonely",
	"stressed": "stressed", "exhausted": "stressed", "burnout": "stressed",
}

// InferEmotion tags the utterance with the first matching emotion in token
// order, or empty when nothing matches.
func InferEmotion(text string) string {
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,!?;:\"'()[]")
		if tag, ok := emotionLexicon[f]; ok {
			return tag
		}
	}
	return ""
}

// SelectPolicy picks the response policy from the inferred emotion and the
// best-ranked retrieved content.
func SelectPolicy(emotion string, candidates []models.RankedCandidate) string {
	if len(candidates) > 0 && candidates[0].Document.Metadata["category"] == "psychoeducation" {
		return PolicyPsychoeducation
	}
	switch emotion {
	case "anxious", "stressed":
		return PolicyGrounding
	case "sad", "lonely":
		return PolicyActivation
	default:
		return PolicyValidate
	}
}

var policyInstructions = map[string]string{
	PolicyValidate:        "Acknowledge and validate what the person shared.",
	PolicyGrounding:       "Gently offer one simple grounding or breathing idea, framed as an invitation.",
	PolicyActivation:      "Gently encourage one small, concrete next step, framed as an invitation.",
	PolicyPsychoeducation: "Share one short, plain-language insight from the supporting content.",
}

// BuildPrompt assembles the generation prompt for the selected policy.
func BuildPrompt(policy, utterance, emotion string) string {
	instr, ok := policyInstructions[policy]
	if !ok {
		instr = policyInstructions[PolicyValidate]
	}
	var sb strings.Builder
	sb.WriteString(instr)
	sb.WriteString(" Keep the reply to three sentences at most, make at most one offer, and never diagnose or give treatment advice.")
	if emotion != "" {
		sb.WriteString(fmt.Sprintf(" The person seems to be feeling %s.", emotion))
	}
	sb.WriteString("\n\nThey said: ")
	sb.WriteString(utterance)
	return sb.String()
}

const snippetLen = 300

// Snippets extracts up to n short supporting passages from ranked
// candidates for the generation context.
func Snippets(candidates []models.RankedCandidate, n int) []string {
	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]string, 0, n)
	for _, c := range candidates[:n] {
		text := c.Document.Text
		if len(text) > snippetLen {
			text = text[:snippetLen]
		}
		out = append(out, text)
	}
	return out
}
