package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/attunehealth/attune/config"
	"github.com/attunehealth/attune/models"
)

// Store is the postgres-backed compliance record keeper. It persists only
// the minimal crisis audit trail and SBAR handoffs, never conversation
// transcripts.
type Store struct {
	DB *sql.DB
}

var (
	metricsOnce    sync.Once
	crisisCounter  otelmetric.Int64Counter
	handoffCounter otelmetric.Int64Counter
	metricsInitErr error
)

func initStoreMetrics() {
	meter := otel.Meter("store")
	var err error
	crisisCounter, err = meter.Int64Counter("crisis_events_total")
	if err != nil {
		metricsInitErr = err
		return
	}
	handoffCounter, err = meter.Int64Counter("handoffs_total")
	if err != nil {
		metricsInitErr = err
	}
}

// New opens a connection pool against the configured postgres instance and
// verifies connectivity before returning.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// RecordCrisis appends one minimal audit row for a crisis-path turn.
func (s *Store) RecordCrisis(ctx context.Context, rec models.AuditRecord) error {
	var handoffID interface{}
	if rec.HandoffID != "" {
		handoffID = rec.HandoffID
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO crisis_audit (at, risk_level, trigger_category, handoff_id)
VALUES ($1,$2,$3,$4)
`, rec.At, string(rec.RiskLevel), rec.TriggerCategory, handoffID)
	if err != nil {
		return err
	}
	metricsOnce.Do(initStoreMetrics)
	if metricsInitErr == nil && crisisCounter != nil {
		crisisCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("risk_level", string(rec.RiskLevel))))
	}
	return nil
}

// SaveHandoff persists an SBAR handoff record for the escalation trail.
func (s *Store) SaveHandoff(ctx context.Context, rec models.HandoffRecord) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO handoffs (id, session_id, situation, background, assessment, recommendation, priority, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, rec.ID, rec.SessionID, rec.Situation, rec.Background, rec.Assessment, rec.Recommendation, rec.Priority, rec.CreatedAt)
	if err != nil {
		return err
	}
	metricsOnce.Do(initStoreMetrics)
	if metricsInitErr == nil && handoffCounter != nil {
		handoffCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("priority", rec.Priority)))
	}
	return nil
}

// ListHandoffs returns handoff records for a session, newest first.
func (s *Store) ListHandoffs(ctx context.Context, sessionID string) ([]models.HandoffRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, situation, background, assessment, recommendation, priority, created_at
FROM handoffs WHERE session_id=$1 ORDER BY created_at DESC
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.HandoffRecord
	for rows.Next() {
		var r models.HandoffRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Situation, &r.Background, &r.Assessment,
			&r.Recommendation, &r.Priority, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PurgeAuditBefore deletes audit rows older than the cutoff and returns the
// number removed. Handoff rows are retained; only the turn-level audit trail
// is subject to retention.
func (s *Store) PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM crisis_audit WHERE at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
