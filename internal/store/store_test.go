package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/attunehealth/attune/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db}, mock
}

func TestRecordCrisis(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	query := regexp.QuoteMeta(`
INSERT INTO crisis_audit (at, risk_level, trigger_category, handoff_id)
VALUES ($1,$2,$3,$4)
`)
	mock.ExpectExec(query).
		WithArgs(now, "high", "self_harm_intent", "h-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.RecordCrisis(context.Background(), models.AuditRecord{
		At:              now,
		RiskLevel:       models.RiskHigh,
		TriggerCategory: "self_harm_intent",
		HandoffID:       "h-1",
	})
	if err != nil {
		t.Fatalf("RecordCrisis: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordCrisisNullHandoff(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	query := regexp.QuoteMeta(`
INSERT INTO crisis_audit (at, risk_level, trigger_category, handoff_id)
VALUES ($1,$2,$3,$4)
`)
	mock.ExpectExec(query).
		WithArgs(now, "high", "risk_detection_failure", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.RecordCrisis(context.Background(), models.AuditRecord{
		At:              now,
		RiskLevel:       models.RiskHigh,
		TriggerCategory: "risk_detection_failure",
	})
	if err != nil {
		t.Fatalf("RecordCrisis: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveHandoff(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	query := regexp.QuoteMeta(`
INSERT INTO handoffs (id, session_id, situation, background, assessment, recommendation, priority, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`)
	mock.ExpectExec(query).
		WithArgs("h-1", "s-1", "sit", "bg", "assess", "rec", "immediate", now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.SaveHandoff(context.Background(), models.HandoffRecord{
		ID: "h-1", SessionID: "s-1", Situation: "sit", Background: "bg",
		Assessment: "assess", Recommendation: "rec", Priority: "immediate", CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("SaveHandoff: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListHandoffs(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	query := regexp.QuoteMeta(`
SELECT id, session_id, situation, background, assessment, recommendation, priority, created_at
FROM handoffs WHERE session_id=$1 ORDER BY created_at DESC
`)
	mock.ExpectQuery(query).
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "session_id", "situation", "background", "assessment",
			"recommendation", "priority", "created_at",
		}).AddRow("h-1", "s-1", "sit", "bg", "assess", "rec", "urgent", now))

	recs, err := st.ListHandoffs(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("ListHandoffs: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "h-1" || recs[0].Priority != "urgent" {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPurgeAuditBefore(t *testing.T) {
	st, mock := newMockStore(t)
	cutoff := time.Now().Add(-90 * 24 * time.Hour)

	query := regexp.QuoteMeta(`DELETE FROM crisis_audit WHERE at < $1`)
	mock.ExpectExec(query).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := st.PurgeAuditBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PurgeAuditBefore: %v", err)
	}
	if n != 7 {
		t.Fatalf("rows affected = %d, want 7", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUserRoundTrip(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users (email, password_hash) VALUES ($1,$2)`)).
		WithArgs("a@b.c", "hash").
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := st.CreateUser(context.Background(), "a@b.c", "hash"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, password_hash FROM users WHERE email=$1`)).
		WithArgs("a@b.c").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash"}).AddRow("u-1", "hash"))
	id, hash, err := st.GetUserByEmail(context.Background(), "a@b.c")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if id != "u-1" || hash != "hash" {
		t.Fatalf("unexpected user: %s %s", id, hash)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
