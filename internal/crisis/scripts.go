package crisis

import "github.com/attunehealth/attune/models"

// ScriptSet holds the pre-approved safety message templates. The crisis path
// is scripted, not generated: every crisis reply is drawn verbatim from this
// fixed set, with the hotline reference baked in at construction.
type ScriptSet struct {
	byTag    map[string]string
	def      string
	caution  string
	trouble  string
	fallback []string
	hotline  string
}

func NewScriptSet(hotline string) *ScriptSet {
	if hotline == "" {
		hotline = "988"
	}
	def := "I'm really glad you told me, and I'm concerned about your safety right now. " +
		"You deserve immediate support from a person who can help. " +
		"Please call or text " + hotline + " to reach the crisis line now."
	return &ScriptSet{
		hotline: hotline,
		def:     def,
		byTag: map[string]string{
			"self_harm_intent": def,
			"self_harm_plan": "Thank you for trusting me with this; what you're describing is serious, and your safety matters most. " +
				"Please contact the " + hotline + " crisis line right now, by call or text. " +
				"If you are in immediate danger, call emergency services.",
			"abuse_in_progress": "No one should be hurt by the people around them, and I'm sorry you're going through this. " +
				"If you are in danger right now, call emergency services. " +
				"You can also reach confidential support any time at " + hotline + ".",
			"threats_to_others": "It sounds like things feel out of control right now, and it took courage to say that. " +
				"Please reach out to the " + hotline + " line now so a trained counselor can help you through this moment.",
		},
		caution: "I want to make sure you're safe, and right now I can't be certain of that. " +
			"If you're struggling at all, please call or text " + hotline + " to talk with someone now. " +
			"I'm here when you're ready to continue.",
		trouble: "I'm having trouble right now. Please try again in a moment.",
		fallback: []string{
			"That sounds really hard, and I'm here with you. Would you like to tell me more about what's been going on?",
			"Thank you for sharing that with me. I'm listening, and we can take this at whatever pace feels right.",
		},
	}
}

// Pick selects the template for an assessment deterministically: the first
// triggering reason with a dedicated template wins, otherwise the default.
func (s *ScriptSet) Pick(a models.RiskAssessment) string {
	for _, r := range a.Reasons {
		if tmpl, ok := s.byTag[r.Tag]; ok {
			return tmpl
		}
	}
	return s.def
}

// Templates returns every crisis template in the set, in a fixed order.
func (s *ScriptSet) Templates() []string {
	out := []string{s.def, s.caution}
	seen := map[string]struct{}{s.def: {}, s.caution: {}}
	for _, tag := range []string{"self_harm_intent", "self_harm_plan", "abuse_in_progress", "threats_to_others"} {
		tmpl := s.byTag[tag]
		if _, ok := seen[tmpl]; ok {
			continue
		}
		seen[tmpl] = struct{}{}
		out = append(out, tmpl)
	}
	return out
}

// Caution is the conservative reply used when risk detection itself fails.
func (s *ScriptSet) Caution() string { return s.caution }

// Trouble is the generic degraded reply, the only case where the system
// declines to answer.
func (s *ScriptSet) Trouble() string { return s.trouble }

// Fallback returns the neutral empathetic reply used when a normal-path
// stage fails. Selection by turn ordinal keeps it deterministic.
func (s *ScriptSet) Fallback(ordinal int) string {
	if ordinal < 0 {
		ordinal = -ordinal
	}
	return s.fallback[ordinal%len(s.fallback)]
}

// Hotline returns the fixed resource reference attached by resource_offer.
func (s *ScriptSet) Hotline() string { return s.hotline }
