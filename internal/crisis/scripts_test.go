package crisis

import (
	"strings"
	"testing"

	"github.com/attunehealth/attune/models"
)

func TestTemplatesCarryHotline(t *testing.T) {
	s := NewScriptSet("988")
	for _, tmpl := range s.Templates() {
		if !strings.Contains(tmpl, "988") {
			t.Fatalf("template missing hotline: %q", tmpl)
		}
		if n := CountSentences(tmpl); n > 3 {
			t.Fatalf("template exceeds sentence budget (%d): %q", n, tmpl)
		}
	}
}

func TestPickByTag(t *testing.T) {
	s := NewScriptSet("988")
	a := models.RiskAssessment{Reasons: []models.RiskReason{{Tag: "self_harm_plan"}}}
	picked := s.Pick(a)
	if !strings.Contains(picked, "988") {
		t.Fatalf("picked template missing hotline: %q", picked)
	}
	// Unknown tags fall back to the default template.
	def := s.Pick(models.RiskAssessment{Reasons: []models.RiskReason{{Tag: "unknown"}}})
	if def != s.Pick(models.RiskAssessment{}) {
		t.Fatalf("unknown tag should pick the default template")
	}
}

func TestPickDeterministic(t *testing.T) {
	s := NewScriptSet("988")
	a := models.RiskAssessment{Reasons: []models.RiskReason{
		{Tag: "abuse_in_progress"}, {Tag: "self_harm_intent"},
	}}
	first := s.Pick(a)
	for i := 0; i < 20; i++ {
		if got := s.Pick(a); got != first {
			t.Fatalf("Pick not deterministic")
		}
	}
}

func TestFallbackSelection(t *testing.T) {
	s := NewScriptSet("988")
	if s.Fallback(0) == "" || s.Fallback(1) == "" {
		t.Fatalf("fallback templates must be non-empty")
	}
	if s.Fallback(2) != s.Fallback(0) {
		t.Fatalf("fallback selection should cycle by ordinal")
	}
	if s.Fallback(-1) == "" {
		t.Fatalf("negative ordinal must not panic or return empty")
	}
}

func TestDefaultHotline(t *testing.T) {
	s := NewScriptSet("")
	if s.Hotline() != "988" {
		t.Fatalf("empty hotline should default to 988, got %q", s.Hotline())
	}
}
