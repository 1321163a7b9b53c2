package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/attunehealth/attune/internal/server"
	"github.com/attunehealth/attune/internal/store"
	"github.com/attunehealth/attune/models"
)

func startPostgres(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "attune",
			"POSTGRES_PASSWORD": "attune",
			"POSTGRES_DB":       "attune",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(1).WithStartupTimeout(60 * time.Second),
	}
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432")
	if err != nil {
		_ = pg.Terminate(ctx)
		t.Fatalf("failed to get mapped port: %v", err)
	}
	host, err := pg.Host(ctx)
	if err != nil {
		_ = pg.Terminate(ctx)
		t.Fatalf("failed to get host: %v", err)
	}
	dsn := fmt.Sprintf("postgres://attune:attune@%s:%s/attune?sslmode=disable", host, port.Port())
	return pg, dsn
}

func findMigrationsDir(t *testing.T) string {
	t.Helper()
	cwd, _ := os.Getwd()
	for i := 0; i < 6; i++ {
		candidate := filepath.Join(cwd, "migrations")
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			return "file://" + candidate
		}
		cwd = filepath.Dir(cwd)
	}
	t.Fatalf("could not locate migrations directory from test cwd")
	return ""
}

func TestAuthAndAuditFlow(t *testing.T) {
	if os.Getenv("ATTUNE_INTEGRATION") == "" {
		t.Skip("set ATTUNE_INTEGRATION=1 to run container-backed tests")
	}

	ctx := context.Background()
	pg, dsn := startPostgres(t, ctx)
	defer func() { _ = pg.Terminate(ctx) }()

	migDir := findMigrationsDir(t)
	var migErr error
	for i := 0; i < 6; i++ {
		migErr = server.Migrate(migDir, dsn, "up", 0)
		if migErr == nil {
			break
		}
		time.Sleep(300 * time.Millisecond)
	}
	if migErr != nil {
		t.Fatalf("migrate up failed after retries: %v", migErr)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	secret := []byte("test-secret")
	e := echo.New()
	auth := &server.AuthHandler{Store: st, Secret: secret}
	auth.Register(e.Group("/api/auth"))
	srv := httptest.NewServer(e)
	defer srv.Close()

	client := &http.Client{Timeout: 10 * time.Second}

	// signup
	{
		b, _ := json.Marshal(map[string]string{"email": "alice@example.com", "password": "verysecure"})
		res, err := client.Post(srv.URL+"/api/auth/signup", "application/json", bytes.NewReader(b))
		if err != nil {
			t.Fatalf("signup request failed: %v", err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("expected 201 for signup, got %d", res.StatusCode)
		}
	}

	// login
	{
		b, _ := json.Marshal(map[string]string{"email": "alice@example.com", "password": "verysecure"})
		res, err := client.Post(srv.URL+"/api/auth/login", "application/json", bytes.NewReader(b))
		if err != nil {
			t.Fatalf("login request failed: %v", err)
		}
		var resp map[string]string
		_ = json.NewDecoder(res.Body).Decode(&resp)
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 for login, got %d", res.StatusCode)
		}
		if resp["token"] == "" {
			t.Fatalf("expected token in login response")
		}
	}

	// handoff plus audit round trip against the real schema
	handoff := models.HandoffRecord{
		ID: uuid.NewString(), SessionID: uuid.NewString(),
		Situation: "expressed intent to self-harm", Background: "risk escalated this session",
		Assessment: "risk level high", Recommendation: "immediate clinician contact",
		Priority: "immediate", CreatedAt: time.Now().UTC(),
	}
	if err := st.SaveHandoff(ctx, handoff); err != nil {
		t.Fatalf("SaveHandoff: %v", err)
	}
	if err := st.RecordCrisis(ctx, models.AuditRecord{
		At: time.Now().UTC(), RiskLevel: models.RiskHigh,
		TriggerCategory: "self_harm_intent", HandoffID: handoff.ID,
	}); err != nil {
		t.Fatalf("RecordCrisis: %v", err)
	}

	recs, err := st.ListHandoffs(ctx, handoff.SessionID)
	if err != nil {
		t.Fatalf("ListHandoffs: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != handoff.ID || recs[0].Priority != "immediate" {
		t.Fatalf("unexpected handoffs: %+v", recs)
	}

	// retention: nothing old enough yet, then everything
	n, err := st.PurgeAuditBefore(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("purge before old cutoff: n=%d err=%v", n, err)
	}
	n, err = st.PurgeAuditBefore(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("purge before future cutoff: n=%d err=%v", n, err)
	}
}
