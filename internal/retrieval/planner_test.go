package retrieval

import (
	"testing"

	"github.com/attunehealth/attune/models"
)

func TestPlannerDepths(t *testing.T) {
	p := NewPlanner(nil)
	cases := []struct {
		text string
		want PipelineDepth
	}{
		{"what are visiting hours", DepthSingleStage},
		{"reset my password", DepthSingleStage},
		{"how do I handle anxiety", DepthTwoStage},
		{"", DepthTwoStage},
		{"I feel anxious about work and my sleep is bad because I keep ruminating at night and nothing helps me calm down anymore", DepthFourStage},
		{"anxiety and depression and insomnia", DepthFourStage},
		{"cbt dbt mindfulness techniques", DepthFourStage},
	}
	for _, c := range cases {
		if got := p.Plan(models.Query{Text: c.text, TopK: 5}); got != c.want {
			t.Fatalf("Plan(%q) = %s, want %s", c.text, got, c.want)
		}
	}
}

func TestPlannerExtraTerms(t *testing.T) {
	p := NewPlanner([]string{"Tinnitus", " vertigo "})
	q := models.Query{Text: "tinnitus vertigo medication", TopK: 5}
	if got := p.Plan(q); got != DepthFourStage {
		t.Fatalf("three domain terms should route to four_stage, got %s", got)
	}
}

func TestPlannerDeterministic(t *testing.T) {
	p := NewPlanner(nil)
	q := models.Query{Text: "coping with grief after losing a parent", TopK: 5}
	first := p.Plan(q)
	for i := 0; i < 20; i++ {
		if got := p.Plan(q); got != first {
			t.Fatalf("plan changed between runs: %s vs %s", first, got)
		}
	}
}
