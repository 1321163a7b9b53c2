package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/attunehealth/attune/models"
)

type stubScorer struct {
	scores map[string]float64
	err    error
	calls  int
}

func (s *stubScorer) Score(ctx context.Context, query, docText string) (float64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.scores[docText], nil
}

func cands(ids ...string) []models.RankedCandidate {
	out := make([]models.RankedCandidate, len(ids))
	for i, id := range ids {
		out[i] = models.RankedCandidate{
			Document: models.Document{ID: id, Text: "text-" + id},
			Rank:     i + 1,
		}
	}
	return out
}

func TestRerankPromotesCrossEncoderWinner(t *testing.T) {
	scorer := &stubScorer{scores: map[string]float64{
		"text-a": 0.1,
		"text-b": 0.9,
		"text-c": 0.5,
	}}
	r := NewReranker(scorer, 60, nil)

	out := r.Rerank(context.Background(), "q", cands("a", "b", "c"), 3)
	if len(out) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(out))
	}
	// b holds ranks (2,1) across the two lists, a holds (1,3), c holds
	// (3,2): re-fusion puts b first, then a, then c.
	if out[0].Document.ID != "b" || out[1].Document.ID != "a" || out[2].Document.ID != "c" {
		t.Fatalf("unexpected order: %s, %s, %s",
			out[0].Document.ID, out[1].Document.ID, out[2].Document.ID)
	}
	for i, c := range out {
		if c.Rank != i+1 {
			t.Fatalf("rank %d assigned %d", i+1, c.Rank)
		}
	}
	if _, ok := out[0].Signals[models.SignalCrossEncoder]; !ok {
		t.Fatalf("cross-encoder signal missing from reranked candidate")
	}
}

func TestRerankSkipsOnScorerFailure(t *testing.T) {
	scorer := &stubScorer{err: errors.New("backend down")}
	r := NewReranker(scorer, 60, nil)

	in := cands("a", "b", "c")
	out := r.Rerank(context.Background(), "q", in, 3)
	for i := range in {
		if out[i].Document.ID != in[i].Document.ID {
			t.Fatalf("order changed on failure: %s vs %s", out[i].Document.ID, in[i].Document.ID)
		}
	}
}

func TestRerankWindowTailPreserved(t *testing.T) {
	scorer := &stubScorer{scores: map[string]float64{
		"text-a": 0.2,
		"text-b": 0.8,
	}}
	r := NewReranker(scorer, 60, nil)

	out := r.Rerank(context.Background(), "q", cands("a", "b", "c", "d"), 2)
	if out[2].Document.ID != "c" || out[3].Document.ID != "d" {
		t.Fatalf("tail reordered: %s, %s", out[2].Document.ID, out[3].Document.ID)
	}
	if scorer.calls != 2 {
		t.Fatalf("expected 2 scorer calls for window 2, got %d", scorer.calls)
	}
}

func TestRerankBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	scorer := &stubScorer{err: errors.New("backend down")}
	r := NewReranker(scorer, 60, nil)

	in := cands("a")
	for i := 0; i < 5; i++ {
		r.Rerank(context.Background(), "q", in, 1)
	}
	// Breaker trips after 3 consecutive failures; later calls never reach
	// the scorer.
	if scorer.calls != 3 {
		t.Fatalf("expected breaker to stop calls at 3, scorer saw %d", scorer.calls)
	}
}

func TestRerankNilScorer(t *testing.T) {
	r := NewReranker(nil, 60, nil)
	in := cands("a", "b")
	out := r.Rerank(context.Background(), "q", in, 2)
	if len(out) != 2 || out[0].Document.ID != "a" {
		t.Fatalf("nil scorer must be a no-op")
	}
}
