package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/attunehealth/attune/config"
	"github.com/attunehealth/attune/internal/crisis"
	"github.com/attunehealth/attune/internal/index"
	"github.com/attunehealth/attune/internal/ingest"
	"github.com/attunehealth/attune/internal/retrieval"
	"github.com/attunehealth/attune/internal/scoring"
	"github.com/attunehealth/attune/internal/session"
	"github.com/attunehealth/attune/internal/session/inmemory"
	redis_session "github.com/attunehealth/attune/internal/session/redis"
	"github.com/attunehealth/attune/internal/store"
	"github.com/attunehealth/attune/internal/telemetry"
	"github.com/attunehealth/attune/provider"
)

// Run wires the full service and blocks serving HTTP.
func Run(cfgPath, addr string) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	prov, err := provider.NewProvider(provider.OpenAI, cfg.Providers.OpenAI)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	corpus, err := index.NewCorpus(cfg.Retrieval.EmbeddingDimensions)
	if err != nil {
		return err
	}
	loader := ingest.NewLoader(corpus, prov, nil)
	if cfg.Server.CorpusFile != "" {
		n, err := loader.LoadFile(ctx, cfg.Server.CorpusFile)
		if err != nil {
			return fmt.Errorf("loading corpus: %w", err)
		}
		log.Printf("loaded %d documents from %s", n, cfg.Server.CorpusFile)
	}

	therapeutic, err := scoring.NewTherapeutic(cfg.Scoring, cfg.Retrieval.DomainTerms, prov, nil)
	if err != nil {
		return err
	}
	reranker := retrieval.NewReranker(prov, cfg.Retrieval.RRFK, nil)
	pipeline := retrieval.NewPipeline(corpus, prov, reranker, therapeutic, cfg.Retrieval, metrics, nil)

	// Session state lives in redis when configured, memory otherwise.
	var sessions session.Store
	var rdb *redis.Client
	if cfg.Storage.Redis.Host != "" {
		rdb, err = redis_session.Conn(ctx, cfg.Storage.Redis.Host, cfg.Storage.Redis.Port,
			cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, cfg.Storage.Redis.Timeout)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		sessions = redis_session.New(rdb, cfg.Crisis.SessionTTL)
	} else {
		sessions = inmemory.New()
	}

	detector, err := crisis.NewDetector(prov, cfg.Crisis.ExtraPatterns, nil)
	if err != nil {
		return err
	}
	guard := crisis.NewGuard(detector, cfg.Crisis, nil)
	scripts := crisis.NewScriptSet(cfg.Crisis.Hotline)
	engine, err := crisis.NewEngine(detector, guard, scripts, sessions, pipeline, prov,
		provider.NewLogEscalations(nil), st, cfg.Crisis, metrics, nil)
	if err != nil {
		return err
	}

	secret := cfg.Server.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: []byte(secret)}
	auth.Register(api.Group("/auth"))

	sh := &SearchHandler{Pipeline: pipeline, TopK: cfg.Retrieval.TopK}
	sh.Register(api.Group("/search"), auth.Secret)

	th := &TurnHandler{Engine: engine}
	th.Register(api.Group("/session"), auth.Secret)

	ih := &IngestHandler{Loader: loader}
	ih.Register(api.Group("/admin"), auth.Secret)

	sweeper := &Sweeper{Store: st, Rdb: rdb, Cfg: cfg.Storage.Retention, Stop: make(chan struct{})}
	sweeper.Start()

	if addr == "" {
		addr = cfg.Server.Address
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":10010"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
