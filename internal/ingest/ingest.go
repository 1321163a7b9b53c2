package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/attunehealth/attune/internal/index"
	"github.com/attunehealth/attune/models"
	"github.com/attunehealth/attune/provider"
)

// embedBatch bounds how many texts go to the embedder per call.
const embedBatch = 32

// Loader reads knowledge content into the corpus, filling in embeddings for
// documents that arrive without one. Re-ingesting an existing ID bumps the
// document version and retires the prior one.
type Loader struct {
	corpus   *index.Corpus
	embedder provider.Embedder
	logger   *log.Logger
}

func NewLoader(corpus *index.Corpus, embedder provider.Embedder, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Loader{corpus: corpus, embedder: embedder, logger: logger}
}

// LoadFile ingests a JSONL corpus file, one document per line. Returns the
// number of documents ingested.
func (l *Loader) LoadFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open corpus file: %w", err)
	}
	defer f.Close()
	return l.Load(ctx, f)
}

// Load ingests JSONL documents from r.
func (l *Loader) Load(ctx context.Context, r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var batch []models.Document
	var total int
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var doc models.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return total, fmt.Errorf("line %d: %w", line, err)
		}
		if doc.ID == "" || doc.Text == "" {
			return total, fmt.Errorf("line %d: document id and text are required", line)
		}
		batch = append(batch, doc)
		if len(batch) >= embedBatch {
			n, err := l.flush(ctx, batch)
			total += n
			if err != nil {
				return total, err
			}
			batch = batch[:0]
		}
	}
	if err := sc.Err(); err != nil {
		return total, err
	}
	n, err := l.flush(ctx, batch)
	total += n
	if err != nil {
		return total, err
	}
	l.logger.Printf("ingested %d documents (%d total in corpus)", total, l.corpus.Len())
	return total, nil
}

// Total reports how many live documents the corpus holds.
func (l *Loader) Total() int { return l.corpus.Len() }

// Add ingests a single document, embedding it if needed.
func (l *Loader) Add(ctx context.Context, doc models.Document) error {
	_, err := l.flush(ctx, []models.Document{doc})
	return err
}

func (l *Loader) flush(ctx context.Context, docs []models.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	var missing []int
	var texts []string
	for i, d := range docs {
		if len(d.Embedding) == 0 {
			missing = append(missing, i)
			texts = append(texts, d.Text)
		}
	}
	if len(missing) > 0 {
		if l.embedder == nil {
			return 0, fmt.Errorf("%d documents lack embeddings and no embedder is configured", len(missing))
		}
		vecs, err := l.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed batch: %w", err)
		}
		if len(vecs) != len(missing) {
			return 0, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missing))
		}
		for j, i := range missing {
			docs[i].Embedding = vecs[j]
		}
	}
	var n int
	for _, d := range docs {
		if err := l.corpus.Upsert(d); err != nil {
			return n, fmt.Errorf("upsert %s: %w", d.ID, err)
		}
		n++
	}
	return n, nil
}
