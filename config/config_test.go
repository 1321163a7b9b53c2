package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Retrieval.TopK != 10 || cfg.Retrieval.RRFK != 60 {
		t.Fatalf("retrieval defaults wrong: %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.RetrieverTimeout != 200*time.Millisecond ||
		cfg.Retrieval.PipelineBudget != 500*time.Millisecond {
		t.Fatalf("timing defaults wrong: %+v", cfg.Retrieval)
	}
	if cfg.Crisis.GateLevel != "medium" || cfg.Crisis.Hotline != "988" ||
		cfg.Crisis.MaxSentences != 3 || cfg.Crisis.DriftEscalation != 3 {
		t.Fatalf("crisis defaults wrong: %+v", cfg.Crisis)
	}
	if cfg.Storage.Retention.AuditTTL != 90*24*time.Hour {
		t.Fatalf("retention default wrong: %v", cfg.Storage.Retention.AuditTTL)
	}
	if err := cfg.Scoring.Validate(); err != nil {
		t.Fatalf("default scoring weights must validate: %v", err)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{
		"retrieval": {"top_k": 25, "embedding_dimensions": 3},
		"crisis": {"gate_level": "high"}
	}`))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Retrieval.TopK != 25 || cfg.Retrieval.EmbeddingDimensions != 3 {
		t.Fatalf("retrieval overrides lost: %+v", cfg.Retrieval)
	}
	if cfg.Crisis.GateLevel != "high" {
		t.Fatalf("crisis override lost: %+v", cfg.Crisis)
	}
}

func TestLoadConfigRejectsBadScoringWeights(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"scoring": {"semantic": 0.9}}`))
	if err == nil || !strings.Contains(err.Error(), "sum to 1.0") {
		t.Fatalf("expected weight-sum error, got %v", err)
	}
}

func TestLoadConfigRejectsBadGateLevel(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"crisis": {"gate_level": "extreme"}}`))
	if err == nil || !strings.Contains(err.Error(), "gate_level") {
		t.Fatalf("expected gate level error, got %v", err)
	}
}

func TestLoadConfigRejectsBadCron(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"storage": {"retention": {"sweep_cron": "not a cron"}}}`))
	if err == nil || !strings.Contains(err.Error(), "sweep_cron") {
		t.Fatalf("expected cron error, got %v", err)
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{URL: "postgres://u:p@h:5432/db"}
	dsn, err := p.DSN()
	if err != nil || dsn != p.URL {
		t.Fatalf("url should win: %q, %v", dsn, err)
	}

	p = PostgresConfig{Host: "localhost", User: "a", Password: "b", DBName: "attune"}
	dsn, err = p.DSN()
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	if dsn != "postgres://a:b@localhost:5432/attune?sslmode=disable" {
		t.Fatalf("unexpected dsn: %q", dsn)
	}

	if _, err := (PostgresConfig{}).DSN(); err == nil {
		t.Fatalf("unconfigured postgres must error")
	}
}
