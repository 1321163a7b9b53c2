package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/attunehealth/attune/config"
	"github.com/attunehealth/attune/internal/store"
)

// Sweeper purges expired audit rows on the configured cron schedule. A redis
// lock keeps replicas from sweeping concurrently.
type Sweeper struct {
	Store  *store.Store
	Rdb    *redis.Client
	Cfg    config.RetentionConfig
	Stop   chan struct{}
	Logger *log.Logger

	lastRun time.Time
}

func (s *Sweeper) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[RETENTION] ", log.LstdFlags)
	}
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Sweeper) tick() {
	if s.Cfg.SweepCron == "" || s.Cfg.AuditTTL <= 0 {
		return
	}
	if !s.due(time.Now()) {
		return
	}
	ctx := context.Background()

	if s.Rdb != nil {
		ok, _ := s.Rdb.SetNX(ctx, "retention:lock", "1", 10*time.Minute).Result()
		if !ok {
			s.lastRun = time.Now()
			return
		}
		defer s.Rdb.Del(ctx, "retention:lock")
	}

	cutoff := time.Now().Add(-s.Cfg.AuditTTL)
	n, err := s.Store.PurgeAuditBefore(ctx, cutoff)
	if err != nil {
		s.Logger.Printf("audit sweep failed: %v", err)
		return
	}
	s.lastRun = time.Now()
	s.Logger.Printf("audit sweep removed %d rows older than %s", n, cutoff.Format(time.RFC3339))
}

// due reports whether the cron schedule has fired since the last sweep.
func (s *Sweeper) due(now time.Time) bool {
	expr, err := cronexpr.Parse(s.Cfg.SweepCron)
	if err != nil {
		return false
	}
	base := s.lastRun
	if base.IsZero() {
		// First check after start: only run if a scheduled time falls within
		// the last tick interval, not immediately on boot.
		base = now.Add(-time.Minute)
	}
	next := expr.Next(base)
	return !next.IsZero() && !next.After(now)
}
