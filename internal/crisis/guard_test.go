package crisis

import (
	"context"
	"errors"
	"testing"

	"github.com/attunehealth/attune/config"
	"github.com/attunehealth/attune/models"
)

func testCrisisConfig() config.CrisisConfig {
	return config.CrisisConfig{
		GateLevel:       "medium",
		MaxSentences:    3,
		MaxActionOffers: 1,
		Hotline:         "988",
		DriftEscalation: 3,
	}
}

func testGuard(t *testing.T, classifier *stubClassifier) *Guard {
	t.Helper()
	d, err := NewDetector(classifier, nil, nil)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return NewGuard(d, testCrisisConfig(), nil)
}

func TestInspectCleanReply(t *testing.T) {
	g := testGuard(t, &stubClassifier{level: models.RiskNone})
	res, err := g.Inspect(context.Background(), "That sounds hard. I'm here with you.")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !res.OK || res.Drift || len(res.Violations) != 0 {
		t.Fatalf("clean reply rejected: %+v", res)
	}
}

func TestInspectCatchesRiskDrift(t *testing.T) {
	g := testGuard(t, &stubClassifier{level: models.RiskNone})
	res, err := g.Inspect(context.Background(), "Maybe you would be better off dead.")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !res.Drift {
		t.Fatalf("risk phrase in generated reply must flag drift: %+v", res)
	}
}

func TestInspectSentenceBudget(t *testing.T) {
	g := testGuard(t, &stubClassifier{level: models.RiskNone})
	long := "One. Two. Three. Four."
	res, err := g.Inspect(context.Background(), long)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if res.OK {
		t.Fatalf("four sentences should breach the budget")
	}
	found := false
	for _, v := range res.Violations {
		if v == ViolationSentenceCount {
			found = true
		}
	}
	if !found {
		t.Fatalf("sentence_count violation expected: %+v", res.Violations)
	}

	truncated := g.Truncate(long)
	if CountSentences(truncated) > 3 {
		t.Fatalf("Truncate left %d sentences: %q", CountSentences(truncated), truncated)
	}
}

func TestInspectActionOffers(t *testing.T) {
	g := testGuard(t, &stubClassifier{level: models.RiskNone})
	reply := "Would you like to try breathing? Do you want to journal too?"
	res, err := g.Inspect(context.Background(), reply)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	found := false
	for _, v := range res.Violations {
		if v == ViolationActionOffers {
			found = true
		}
	}
	if !found {
		t.Fatalf("two offers should breach the single-offer rule: %+v", res.Violations)
	}
}

func TestInspectDiagnosticLanguage(t *testing.T) {
	g := testGuard(t, &stubClassifier{level: models.RiskNone})
	for _, reply := range []string{
		"It sounds like you have an anxiety disorder.",
		"You should take more medication for this.",
	} {
		res, err := g.Inspect(context.Background(), reply)
		if err != nil {
			t.Fatalf("Inspect: %v", err)
		}
		found := false
		for _, v := range res.Violations {
			if v == ViolationDiagnostic {
				found = true
			}
		}
		if !found {
			t.Fatalf("diagnostic language not caught in %q: %+v", reply, res.Violations)
		}
	}
}

func TestInspectRescanFailureIsFatal(t *testing.T) {
	g := testGuard(t, &stubClassifier{err: errors.New("down")})
	if _, err := g.Inspect(context.Background(), "A harmless reply."); err == nil {
		t.Fatalf("risk re-scan failure must be fatal to the turn")
	}
}

func TestCountSentences(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"One sentence", 1},
		{"One. Two.", 2},
		{"One. Two. Three without terminator", 3},
		{"Really?! Yes.", 2},
	}
	for _, c := range cases {
		if got := CountSentences(c.text); got != c.want {
			t.Fatalf("CountSentences(%q) = %d, want %d", c.text, got, c.want)
		}
	}
}
