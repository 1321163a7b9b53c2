package inmemory

import (
	"context"
	"errors"
	"testing"

	"github.com/attunehealth/attune/models"
)

func TestEnsureCreatesAndReuses(t *testing.T) {
	s := New()
	ctx := context.Background()

	st, err := s.Ensure(ctx, "")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if st.SessionID == "" || st.CurrentNode != "ingress" {
		t.Fatalf("fresh session malformed: %+v", st)
	}

	again, err := s.Ensure(ctx, st.SessionID)
	if err != nil {
		t.Fatalf("Ensure existing: %v", err)
	}
	if again.SessionID != st.SessionID {
		t.Fatalf("existing session not reused")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	st, _ := s.Ensure(ctx, "")
	st.DriftCount = 2
	st.DisclosureShown = true
	st.RiskHistory = append(st.RiskHistory, models.RiskEvent{Level: models.RiskLow})
	if err := s.Save(ctx, st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, st.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DriftCount != 2 || !got.DisclosureShown || len(got.RiskHistory) != 1 {
		t.Fatalf("state lost on round trip: %+v", got)
	}
}

func TestEndDiscards(t *testing.T) {
	s := New()
	ctx := context.Background()

	st, _ := s.Ensure(ctx, "")
	if err := s.End(ctx, st.SessionID); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, err := s.Get(ctx, st.SessionID); !errors.Is(err, models.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
