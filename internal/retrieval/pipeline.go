package retrieval

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/attunehealth/attune/config"
	"github.com/attunehealth/attune/internal/index"
	"github.com/attunehealth/attune/internal/scoring"
	"github.com/attunehealth/attune/internal/telemetry"
	"github.com/attunehealth/attune/models"
	"github.com/attunehealth/attune/provider"
)

// Pipeline is the hybrid multi-stage retrieval pipeline: planner-routed
// concurrent sparse/dense fan-out, RRF fusion barrier, best-effort
// cross-encoder reranking and therapeutic composite scoring.
type Pipeline struct {
	corpus      *index.Corpus
	embedder    provider.Embedder
	reranker    *Reranker
	therapeutic *scoring.Therapeutic
	planner     *Planner
	cfg         config.RetrievalConfig
	metrics     *telemetry.Metrics
	logger      *log.Logger
}

func NewPipeline(
	corpus *index.Corpus,
	embedder provider.Embedder,
	reranker *Reranker,
	therapeutic *scoring.Therapeutic,
	cfg config.RetrievalConfig,
	metrics *telemetry.Metrics,
	logger *log.Logger,
) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	if metrics == nil {
		metrics = telemetry.NewNopMetrics()
	}
	// Unconfigured list weights mean equal contribution.
	if cfg.SparseWeight == 0 && cfg.DenseWeight == 0 {
		cfg.SparseWeight, cfg.DenseWeight = 1, 1
	}
	return &Pipeline{
		corpus:      corpus,
		embedder:    embedder,
		reranker:    reranker,
		therapeutic: therapeutic,
		planner:     NewPlanner(cfg.DomainTerms),
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
	}
}

// Plan exposes the depth decision for a query without running retrieval.
func (p *Pipeline) Plan(q models.Query) PipelineDepth {
	return p.planner.Plan(q)
}

// TopK is the configured default result count for callers that do not set
// their own.
func (p *Pipeline) TopK() int {
	if p.cfg.TopK > 0 {
		return p.cfg.TopK
	}
	return 5
}

// Search runs the full pipeline for one query. Retrieval is best-effort per
// backend: a timed-out or failing retriever contributes an empty list. An
// embedding dimensionality mismatch is the one fatal retrieval error.
func (p *Pipeline) Search(ctx context.Context, q models.Query) ([]models.RankedCandidate, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		p.metrics.PipelineLatency.Observe(time.Since(start).Seconds())
	}()

	budget := p.cfg.PipelineBudget
	if budget <= 0 {
		budget = 500 * time.Millisecond
	}
	bctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	depth := p.planner.Plan(q)
	fetchK := q.TopK * p.cfg.Oversample

	sparse, dense, err := p.fanOut(bctx, q, fetchK, depth)
	if err != nil {
		return nil, err
	}

	fused := FuseRRF(p.cfg.RRFK,
		WeightedList{Name: "sparse", Weight: p.cfg.SparseWeight, Hits: sparse},
		WeightedList{Name: "dense", Weight: p.cfg.DenseWeight, Hits: dense},
	)
	if len(fused) == 0 {
		return []models.RankedCandidate{}, nil
	}

	candidates := p.assemble(fused, sparse, dense)

	if depth == DepthFourStage {
		candidates = p.enhance(bctx, q, candidates)
	}

	if len(candidates) > q.TopK {
		candidates = candidates[:q.TopK]
	}
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	return candidates, nil
}

// fanOut runs the retrievers concurrently, each bounded by its own timeout.
// The fusion step that follows is the synchronization barrier: a timed-out
// retriever is treated as having returned an empty list.
func (p *Pipeline) fanOut(ctx context.Context, q models.Query, fetchK int, depth PipelineDepth) (sparse, dense []index.Hit, fatal error) {
	timeout := p.cfg.RetrieverTimeout
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	run := func(name string, fn func(context.Context) ([]index.Hit, error), into *[]index.Hit) {
		defer wg.Done()
		rctx, rcancel := context.WithTimeout(ctx, timeout)
		defer rcancel()

		type result struct {
			hits []index.Hit
			err  error
		}
		done := make(chan result, 1)
		go func() {
			hits, err := fn(rctx)
			done <- result{hits, err}
		}()

		select {
		case res := <-done:
			mu.Lock()
			defer mu.Unlock()
			if res.err != nil {
				if errors.Is(res.err, models.ErrDimensionMismatch) {
					fatal = res.err
					return
				}
				p.logger.Printf("%s retriever degraded to empty list: %v", name, res.err)
				p.metrics.RetrieverEmpty.WithLabelValues(name).Inc()
				return
			}
			*into = res.hits
		case <-rctx.Done():
			mu.Lock()
			defer mu.Unlock()
			p.logger.Printf("%s retriever timed out after %s", name, timeout)
			p.metrics.RetrieverTimeouts.WithLabelValues(name).Inc()
		}
	}

	wg.Add(1)
	go run("sparse", func(rctx context.Context) ([]index.Hit, error) {
		return p.corpus.SearchText(q.Text, fetchK)
	}, &sparse)

	if depth != DepthSingleStage {
		wg.Add(1)
		go run("dense", func(rctx context.Context) ([]index.Hit, error) {
			vec := q.Embedding
			if vec == nil {
				vecs, err := p.embedder.Embed(rctx, []string{q.Text})
				if err != nil {
					return nil, err
				}
				if len(vecs) == 0 {
					return nil, models.ErrRetrievalUnavailable
				}
				vec = vecs[0]
			}
			return p.corpus.SearchVector(vec, fetchK, q.Filters)
		}, &dense)
	}

	wg.Wait()
	return sparse, dense, fatal
}

// assemble materializes fused hits into candidates, retaining every raw
// retriever signal for auditability.
func (p *Pipeline) assemble(fused, sparse, dense []index.Hit) []models.RankedCandidate {
	textScores := make(map[string]float64, len(sparse))
	for _, h := range sparse {
		textScores[h.DocID] = h.Score
	}
	vecScores := make(map[string]float64, len(dense))
	for _, h := range dense {
		vecScores[h.DocID] = h.Score
	}

	out := make([]models.RankedCandidate, 0, len(fused))
	for _, h := range fused {
		doc, ok := p.corpus.Get(h.DocID)
		if !ok {
			continue
		}
		c := models.RankedCandidate{Document: doc, Final: h.Score, Rank: len(out) + 1}
		c.SetSignal(models.SignalFused, h.Score)
		if s, ok := textScores[h.DocID]; ok {
			c.SetSignal(models.SignalTextRank, s)
		}
		if s, ok := vecScores[h.DocID]; ok {
			c.SetSignal(models.SignalVectorSimilarity, s)
		}
		out = append(out, c)
	}
	return out
}

// enhance applies reranking and therapeutic scoring when the budget allows.
// Past the budget the fused-but-unreranked set is returned instead of
// blocking further.
func (p *Pipeline) enhance(ctx context.Context, q models.Query, candidates []models.RankedCandidate) []models.RankedCandidate {
	if ctx.Err() != nil {
		p.logger.Printf("pipeline budget exhausted before rerank, returning fused order")
		p.metrics.RerankSkipped.Inc()
		return candidates
	}

	window := q.TopK * p.cfg.Oversample
	if window > len(candidates) {
		window = len(candidates)
	}
	if p.reranker != nil {
		candidates = p.reranker.Rerank(ctx, q.Text, candidates, window)
	}

	if p.therapeutic == nil {
		return candidates
	}
	if ctx.Err() != nil {
		p.logger.Printf("pipeline budget exhausted before therapeutic scoring")
		return candidates
	}
	for i := 0; i < window; i++ {
		candidates[i] = p.therapeutic.Score(ctx, q, candidates[i])
	}
	head := candidates[:window]
	sort.SliceStable(head, func(i, j int) bool {
		if head[i].Final != head[j].Final {
			return head[i].Final > head[j].Final
		}
		return head[i].Document.ID < head[j].Document.ID
	})
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	return candidates
}
