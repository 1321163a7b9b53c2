package retrieval

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/sony/gobreaker"

	"github.com/attunehealth/attune/internal/index"
	"github.com/attunehealth/attune/models"
)

// Reranker applies cross-encoder relevance scoring to the fused top of a
// candidate list. Reranking is an enhancement: on any scorer failure the
// pre-rerank fused order is returned unchanged.
type Reranker struct {
	scorer  CrossEncoderScorer
	breaker *gobreaker.CircuitBreaker
	rrfK    int
	logger  *log.Logger
}

// CrossEncoderScorer is the injected pairwise scoring contract:
// score(query, document_text) -> float in [0,1].
type CrossEncoderScorer interface {
	Score(ctx context.Context, query, docText string) (float64, error)
}

func NewReranker(scorer CrossEncoderScorer, rrfK int, logger *log.Logger) *Reranker {
	if logger == nil {
		logger = log.New(log.Writer(), "[RERANK] ", log.LstdFlags)
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "cross-encoder",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Reranker{scorer: scorer, breaker: breaker, rrfK: rrfK, logger: logger}
}

// Rerank scores the first window candidates pairwise against the query and
// re-fuses the cross-encoder ranking with the incoming fused ranking, so a
// single bad pairwise score cannot make a highly-fused candidate vanish.
// Candidates beyond the window keep their relative order after the window.
func (r *Reranker) Rerank(ctx context.Context, queryText string, candidates []models.RankedCandidate, window int) []models.RankedCandidate {
	if r.scorer == nil || len(candidates) == 0 {
		return candidates
	}
	if window > len(candidates) {
		window = len(candidates)
	}

	head := candidates[:window]
	scores := make(map[string]float64, window)
	for i := range head {
		doc := head[i].Document
		res, err := r.breaker.Execute(func() (interface{}, error) {
			return r.scorer.Score(ctx, queryText, doc.Text)
		})
		if err != nil {
			r.logger.Printf("cross-encoder unavailable, keeping fused order: %v", err)
			return candidates
		}
		scores[doc.ID] = res.(float64)
	}

	// Cross-encoder ranking: score descending, ID ascending.
	ceOrder := make([]index.Hit, 0, window)
	for id, s := range scores {
		ceOrder = append(ceOrder, index.Hit{DocID: id, Score: s})
	}
	sort.Slice(ceOrder, func(i, j int) bool {
		if ceOrder[i].Score != ceOrder[j].Score {
			return ceOrder[i].Score > ceOrder[j].Score
		}
		return ceOrder[i].DocID < ceOrder[j].DocID
	})
	for i := range ceOrder {
		ceOrder[i].Rank = i + 1
	}

	fusedOrder := make([]index.Hit, window)
	for i := range head {
		fusedOrder[i] = index.Hit{DocID: head[i].Document.ID, Rank: i + 1}
	}

	refused := FuseRRF(r.rrfK,
		WeightedList{Name: "fused", Weight: 1, Hits: fusedOrder},
		WeightedList{Name: "cross_encoder", Weight: 1, Hits: ceOrder},
	)

	byID := make(map[string]models.RankedCandidate, window)
	for _, c := range head {
		byID[c.Document.ID] = c
	}
	out := make([]models.RankedCandidate, 0, len(candidates))
	for _, h := range refused {
		c := byID[h.DocID]
		c.SetSignal(models.SignalCrossEncoder, scores[h.DocID])
		c.Final = h.Score
		c.Rank = len(out) + 1
		out = append(out, c)
	}
	for _, c := range candidates[window:] {
		c.Rank = len(out) + 1
		out = append(out, c)
	}
	return out
}
