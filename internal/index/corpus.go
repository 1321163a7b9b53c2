package index

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve"

	"github.com/attunehealth/attune/models"
)

// Hit is one retriever result: a document reference with a raw score and a
// 1-based rank within its originating list.
type Hit struct {
	DocID string
	Score float64
	Rank  int
}

// Corpus holds the retrievable knowledge content behind both retrieval
// contracts: a BM25 text index and an in-memory vector index. Documents are
// versioned; an update retires the previous version rather than mutating it,
// so past retrievals stay reproducible.
type Corpus struct {
	mu      sync.RWMutex
	bleve   bleve.Index
	docs    map[string]models.Document // live version per ID
	retired map[string][]models.Document
	vectors []docVec
	dims    int
}

type docVec struct {
	docID string
	vec   []float32
}

// indexable is the shape handed to bleve for text scoring.
type indexable struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// NewCorpus creates an empty corpus. dims fixes the embedding
// dimensionality for the deployed model version.
func NewCorpus(dims int) (*Corpus, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("corpus dimensionality must be > 0, got %d", dims)
	}
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating text index: %w", err)
	}
	return &Corpus{
		bleve:   idx,
		docs:    make(map[string]models.Document),
		retired: make(map[string][]models.Document),
		dims:    dims,
	}, nil
}

// Dimensions returns the fixed embedding dimensionality of this corpus.
func (c *Corpus) Dimensions() int { return c.dims }

// Upsert indexes a document. If the ID already exists the current version is
// retired and the incoming document gets the next version number.
func (c *Corpus) Upsert(doc models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if len(doc.Embedding) != c.dims {
		return fmt.Errorf("%w: document %s has %d dimensions, corpus expects %d",
			models.ErrDimensionMismatch, doc.ID, len(doc.Embedding), c.dims)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	prev, exists := c.docs[doc.ID]
	if exists {
		doc.Version = prev.Version + 1
		doc.CreatedAt = prev.CreatedAt
	} else {
		doc.Version = 1
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	doc.Retired = false

	// Text index first: it is the only step that can fail, and the document
	// and vector maps must never hold a version the keyword index missed.
	if err := c.bleve.Index(doc.ID, indexable{Title: doc.Title, Text: doc.Text}); err != nil {
		return err
	}

	if exists {
		prev.Retired = true
		c.retired[doc.ID] = append(c.retired[doc.ID], prev)
		for i := range c.vectors {
			if c.vectors[i].docID == doc.ID {
				c.vectors[i].vec = doc.Embedding
				break
			}
		}
	} else {
		c.vectors = append(c.vectors, docVec{docID: doc.ID, vec: doc.Embedding})
	}
	c.docs[doc.ID] = doc

	return nil
}

// Get returns the live version of a document.
func (c *Corpus) Get(id string) (models.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[id]
	return doc, ok
}

// Versions returns retired versions of a document, oldest first.
func (c *Corpus) Versions(id string) []models.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Document, len(c.retired[id]))
	copy(out, c.retired[id])
	return out
}

// Len reports the number of live documents.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// SearchText runs BM25-style keyword search over the text index. Ties are
// broken by document ID ascending so repeated runs order identically.
func (c *Corpus) SearchText(q string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k*3, 0, false)
	res, err := c.bleve.Search(req)
	if err != nil {
		return nil, fmt.Errorf("%w: text index: %v", models.ErrRetrievalUnavailable, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{DocID: h.ID, Score: h.Score})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// SearchVector runs cosine-similarity search over the vector index. Scores
// are normalized into [0,1] so they stay rank-comparable system-wide.
// Filters are metadata equality constraints; a filter naming an absent
// metadata key matches nothing. A query vector of the wrong dimensionality
// is a hard error, never truncated or padded.
func (c *Corpus) SearchVector(q []float32, k int, filters map[string]string) ([]Hit, error) {
	if len(q) != c.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, corpus expects %d",
			models.ErrDimensionMismatch, len(q), c.dims)
	}
	if k <= 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := make([]Hit, 0, len(c.vectors))
	for _, v := range c.vectors {
		doc := c.docs[v.docID]
		if !matchesFilters(doc.Metadata, filters) {
			continue
		}
		sim := (cosine(q, v.vec) + 1) / 2
		hits = append(hits, Hit{DocID: v.docID, Score: sim})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// sortHits orders by score descending, then document ID ascending, and
// assigns 1-based ranks.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
	for i := range hits {
		hits[i].Rank = i + 1
	}
}

// matchesFilters applies equality constraints against document metadata.
// Metadata values holding comma-separated lists match on any element.
func matchesFilters(meta map[string]string, filters map[string]string) bool {
	for key, want := range filters {
		got, ok := meta[key]
		if !ok {
			return false
		}
		if got == want {
			continue
		}
		matched := false
		for _, part := range strings.Split(got, ",") {
			if strings.TrimSpace(part) == want {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
