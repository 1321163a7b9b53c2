package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/attunehealth/attune/internal/index"
)

type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func TestLoadEmbedsMissingVectors(t *testing.T) {
	corpus, err := index.NewCorpus(3)
	if err != nil {
		t.Fatalf("NewCorpus: %v", err)
	}
	emb := &stubEmbedder{vec: []float32{1, 0, 0}}
	l := NewLoader(corpus, emb, nil)

	input := strings.Join([]string{
		`{"id":"a","title":"One","text":"first document"}`,
		`{"id":"b","title":"Two","text":"second document","embedding":[0,1,0]}`,
		``,
	}, "\n")
	n, err := l.Load(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 2 || l.Total() != 2 {
		t.Fatalf("ingested %d, total %d, want 2/2", n, l.Total())
	}
	if emb.calls != 1 {
		t.Fatalf("only documents without embeddings should be embedded, calls = %d", emb.calls)
	}
	doc, ok := corpus.Get("a")
	if !ok || len(doc.Embedding) != 3 {
		t.Fatalf("document a missing embedding: %+v", doc)
	}
}

func TestLoadRejectsBadLines(t *testing.T) {
	corpus, err := index.NewCorpus(3)
	if err != nil {
		t.Fatalf("NewCorpus: %v", err)
	}
	l := NewLoader(corpus, &stubEmbedder{vec: []float32{1, 0, 0}}, nil)

	if _, err := l.Load(context.Background(), strings.NewReader(`{"title":"no id"}`)); err == nil {
		t.Fatalf("document without id must be rejected")
	}
	if _, err := l.Load(context.Background(), strings.NewReader(`not json`)); err == nil {
		t.Fatalf("malformed JSON must be rejected")
	}
}

func TestLoadReingestBumpsVersion(t *testing.T) {
	corpus, err := index.NewCorpus(3)
	if err != nil {
		t.Fatalf("NewCorpus: %v", err)
	}
	l := NewLoader(corpus, &stubEmbedder{vec: []float32{1, 0, 0}}, nil)

	line := `{"id":"a","text":"v1"}` + "\n"
	if _, err := l.Load(context.Background(), strings.NewReader(line)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := l.Load(context.Background(), strings.NewReader(`{"id":"a","text":"v2"}`)); err != nil {
		t.Fatalf("Load again: %v", err)
	}
	doc, _ := corpus.Get("a")
	if doc.Version != 2 || doc.Text != "v2" {
		t.Fatalf("re-ingest should bump version: %+v", doc)
	}
	if len(corpus.Versions("a")) != 1 {
		t.Fatalf("previous version should be retired")
	}
}

func TestLoadEmbedderFailure(t *testing.T) {
	corpus, err := index.NewCorpus(3)
	if err != nil {
		t.Fatalf("NewCorpus: %v", err)
	}
	l := NewLoader(corpus, &stubEmbedder{err: errors.New("down")}, nil)
	if _, err := l.Load(context.Background(), strings.NewReader(`{"id":"a","text":"t"}`)); err == nil {
		t.Fatalf("embedder failure must abort the batch")
	}
}
