package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attunehealth/attune/internal/session"
	"github.com/attunehealth/attune/models"
)

// Store is an in-process session store for single-instance deployments and
// tests.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]models.PolicyGraphState
}

func New() session.Store {
	return &Store{sessions: make(map[string]models.PolicyGraphState)}
}

func (s *Store) Ensure(ctx context.Context, id string) (models.PolicyGraphState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if st, ok := s.sessions[id]; ok {
			return st, nil
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	st := models.PolicyGraphState{
		SessionID:   id,
		CurrentNode: "ingress",
		EnteredAt:   time.Now(),
	}
	s.sessions[id] = st
	return st, nil
}

func (s *Store) Get(ctx context.Context, id string) (models.PolicyGraphState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[id]
	if !ok {
		return models.PolicyGraphState{}, models.ErrSessionNotFound
	}
	return st, nil
}

func (s *Store) Save(ctx context.Context, st models.PolicyGraphState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[st.SessionID] = st
	return nil
}

func (s *Store) End(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
