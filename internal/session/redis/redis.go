package redis_session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/attunehealth/attune/internal/session"
	"github.com/attunehealth/attune/models"
)

const stateKeyPrefix = "pgstate:"

// Store keeps policy-graph session state in Redis, one JSON value per
// session, expiring after the configured TTL.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// Conn dials Redis and verifies connectivity.
func Conn(ctx context.Context, host, port, pass string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		DialTimeout: timeout,
		Password:    pass,
		DB:          db,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	log.Printf("redis session store connected -> %s", client.Options().Addr)
	return client, nil
}

func New(client *redis.Client, ttl time.Duration) session.Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

func (s *Store) Ensure(ctx context.Context, id string) (models.PolicyGraphState, error) {
	if id != "" {
		st, err := s.Get(ctx, id)
		if err == nil {
			return st, nil
		}
		if !errors.Is(err, models.ErrSessionNotFound) {
			return models.PolicyGraphState{}, err
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
	if err := s.Save(ctx, st); err != nil {
		return models.PolicyGraphState{}, err
	}
	return st, nil
}

func (s *Store) Get(ctx context.Context, id string) (models.PolicyGraphState, error) {
	val, err := s.client.Get(ctx, stateKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return models.PolicyGraphState{}, models.ErrSessionNotFound
	}
	if err != nil {
		return models.PolicyGraphState{}, fmt.Errorf("loading session %s: %w", id, err)
	}
	var st models.PolicyGraphState
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return models.PolicyGraphState{}, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return st, nil
}

func (s *Store) Save(ctx context.Context, st models.PolicyGraphState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, stateKeyPrefix+st.SessionID, data, s.ttl).Err()
}

func (s *Store) End(ctx context.Context, id string) error {
	return s.client.Del(ctx, stateKeyPrefix+id).Err()
}
