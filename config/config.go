package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/spf13/viper"
)

// Config holds all configuration for the retrieval and safety core.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Crisis    CrisisConfig    `mapstructure:"crisis"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address    string `mapstructure:"address"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	CorpusFile string `mapstructure:"corpus_file"`
}

// RetrievalConfig tunes the hybrid retrieval pipeline.
type RetrievalConfig struct {
	TopK                int           `mapstructure:"top_k"`
	RRFK                int           `mapstructure:"rrf_k"`
	SparseWeight        float64       `mapstructure:"sparse_weight"`
	DenseWeight         float64       `mapstructure:"dense_weight"`
	Oversample          int           `mapstructure:"oversample"`
	RetrieverTimeout    time.Duration `mapstructure:"retriever_timeout"`
	PipelineBudget      time.Duration `mapstructure:"pipeline_budget"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	DomainTerms         []string      `mapstructure:"domain_terms"`
}

func (r RetrievalConfig) Validate() error {
	if r.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be > 0")
	}
	if r.RRFK <= 0 {
		return fmt.Errorf("retrieval.rrf_k must be > 0")
	}
	if r.Oversample < 1 {
		return fmt.Errorf("retrieval.oversample must be >= 1")
	}
	if r.EmbeddingDimensions <= 0 {
		return fmt.Errorf("retrieval.embedding_dimensions must be > 0")
	}
	if r.SparseWeight < 0 || r.DenseWeight < 0 {
		return fmt.Errorf("retrieval list weights cannot be negative")
	}
	return nil
}

// ScoringConfig holds the therapeutic composite weight table. Weights must
// sum to exactly 1.0 within floating-point epsilon.
type ScoringConfig struct {
	Semantic         float64       `mapstructure:"semantic"`
	DomainOverlap    float64       `mapstructure:"domain_overlap"`
	ContextFit       float64       `mapstructure:"context_fit"`
	PatientRelevance float64       `mapstructure:"patient_relevance"`
	EvidenceLevel    float64       `mapstructure:"evidence_level"`
	ContentSafety    float64       `mapstructure:"content_safety"`
	NeutralDefault   float64       `mapstructure:"neutral_default"`
	SignalTimeout    time.Duration `mapstructure:"signal_timeout"`
}

const weightEpsilon = 1e-6

func (s ScoringConfig) Validate() error {
	sum := s.Semantic + s.DomainOverlap + s.ContextFit + s.PatientRelevance + s.EvidenceLevel + s.ContentSafety
	if math.Abs(sum-1.0) > weightEpsilon {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.9f", sum)
	}
	if s.NeutralDefault < 0 || s.NeutralDefault > 1 {
		return fmt.Errorf("scoring.neutral_default must be within [0,1]")
	}
	return nil
}

// CrisisConfig tunes the crisis policy graph and the output guard.
type CrisisConfig struct {
	GateLevel       string        `mapstructure:"gate_level"`
	MaxSentences    int           `mapstructure:"max_sentences"`
	MaxActionOffers int           `mapstructure:"max_action_offers"`
	Disclosure      string        `mapstructure:"disclosure"`
	Hotline         string        `mapstructure:"hotline"`
	DriftEscalation int           `mapstructure:"drift_escalation"`
	ExtraPatterns   []string      `mapstructure:"extra_patterns"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
}

func (c CrisisConfig) Validate() error {
	if c.MaxSentences <= 0 {
		return fmt.Errorf("crisis.max_sentences must be > 0")
	}
	if c.DriftEscalation <= 0 {
		return fmt.Errorf("crisis.drift_escalation must be > 0")
	}
	switch c.GateLevel {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("crisis.gate_level must be low, medium or high")
	}
	return nil
}

// ProvidersConfig declares external collaborator backends.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig backs the embedding, generation, cross-encoder and risk
// classifier collaborators.
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	CompletionModel string        `mapstructure:"completion_model"`
	ModerationModel string        `mapstructure:"moderation_model"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// StorageConfig contains database connection settings.
type StorageConfig struct {
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// PostgresConfig for the audit store.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres connection string from either the URL or parts.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig for the policy-graph session store.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if r.DB < 0 {
		return fmt.Errorf("storage.redis.db cannot be negative")
	}
	return nil
}

// RetentionConfig schedules the audit retention sweep.
type RetentionConfig struct {
	AuditTTL  time.Duration `mapstructure:"audit_ttl"`
	SweepCron string        `mapstructure:"sweep_cron"`
}

func (r RetentionConfig) Validate() error {
	if r.SweepCron == "" {
		return nil
	}
	if _, err := cronexpr.Parse(r.SweepCron); err != nil {
		return fmt.Errorf("storage.retention.sweep_cron: %w", err)
	}
	return nil
}

// TelemetryConfig contains monitoring settings.
type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	LogFile string `mapstructure:"log_file"`
}

// LoadConfig reads configuration from file and ATTUNE_* environment
// variables, applying defaults for everything tunable.
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":10010")

	viper.SetDefault("retrieval.top_k", 10)
	viper.SetDefault("retrieval.rrf_k", 60)
	viper.SetDefault("retrieval.sparse_weight", 0.3)
	viper.SetDefault("retrieval.dense_weight", 0.7)
	viper.SetDefault("retrieval.oversample", 3)
	viper.SetDefault("retrieval.retriever_timeout", 200*time.Millisecond)
	viper.SetDefault("retrieval.pipeline_budget", 500*time.Millisecond)
	viper.SetDefault("retrieval.embedding_dimensions", 1024)

	viper.SetDefault("scoring.semantic", 0.30)
	viper.SetDefault("scoring.domain_overlap", 0.20)
	viper.SetDefault("scoring.context_fit", 0.20)
	viper.SetDefault("scoring.patient_relevance", 0.15)
	viper.SetDefault("scoring.evidence_level", 0.10)
	viper.SetDefault("scoring.content_safety", 0.05)
	viper.SetDefault("scoring.neutral_default", 0.5)
	viper.SetDefault("scoring.signal_timeout", 150*time.Millisecond)

	viper.SetDefault("crisis.gate_level", "medium")
	viper.SetDefault("crisis.max_sentences", 3)
	viper.SetDefault("crisis.max_action_offers", 1)
	viper.SetDefault("crisis.hotline", "988")
	viper.SetDefault("crisis.drift_escalation", 3)
	viper.SetDefault("crisis.session_ttl", 24*time.Hour)
	viper.SetDefault("crisis.disclosure",
		"I am a supportive companion, not a medical professional, and this is not therapy or medical advice.")

	viper.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("providers.openai.embedding_model", "text-embedding-3-large")
	viper.SetDefault("providers.openai.completion_model", "gpt-4o-mini")
	viper.SetDefault("providers.openai.moderation_model", "omni-moderation-latest")
	viper.SetDefault("providers.openai.timeout", 30*time.Second)

	viper.SetDefault("storage.redis.timeout", 5*time.Second)
	viper.SetDefault("storage.retention.audit_ttl", 90*24*time.Hour)
	viper.SetDefault("storage.retention.sweep_cron", "0 3 * * *")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("ATTUNE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional; defaults plus env are a valid deployment.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Retrieval.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Scoring.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Crisis.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Redis.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Retention.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
