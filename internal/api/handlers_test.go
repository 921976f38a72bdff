package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/tealmail/drip/internal/config"
	"github.com/tealmail/drip/internal/db"
	"github.com/tealmail/drip/internal/lock"
	"github.com/tealmail/drip/internal/metrics"
	"github.com/tealmail/drip/internal/models"
	"github.com/tealmail/drip/internal/orchestrator"
	"github.com/tealmail/drip/internal/reputation"
	"github.com/tealmail/drip/internal/repository"
	"github.com/tealmail/drip/internal/sender"
	"github.com/tealmail/drip/internal/verify"
)

type okVerifier struct{}

func (okVerifier) Verify(ctx context.Context, email string) verify.Result {
	return verify.Result{Status: verify.StatusOK, Valid: true}
}

func (okVerifier) BreakerState() verify.BreakerState { return verify.BreakerClosed }

type zeroSource struct{}

func (zeroSource) Float64() float64 { return 0.5 }

type testServer struct {
	server *Server
	conn   *sql.DB
	leads  *repository.LeadRepository
}

func newTestServer(t *testing.T, apiKeyHash string) *testServer {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	for _, m := range db.Migrations {
		if _, err := conn.Exec(m); err != nil {
			t.Fatalf("migration failed: %v", err)
		}
	}

	locks, boltDB, err := lock.Open(filepath.Join(t.TempDir(), "locks.db"))
	if err != nil {
		t.Fatalf("failed to open lock store: %v", err)
	}
	t.Cleanup(func() { boltDB.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	campaigns := repository.NewCampaignRepository(conn)
	leads := repository.NewLeadRepository(conn)
	windows := repository.NewReputationRepository(conn)
	audit := repository.NewAuditRepository(conn)

	monitor := reputation.NewMonitor(reputation.DefaultConfig(),
		campaigns, leads, windows, audit, m, logger)
	monitor.Start()
	t.Cleanup(monitor.Stop)

	orchCfg := orchestrator.DefaultConfig()
	orch := orchestrator.New(orchCfg, campaigns, leads, audit, locks,
		okVerifier{}, sender.NewMemorySender(), monitor,
		zeroSource{}, m, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Shutdown(ctx)
	})

	cfg := &config.ServerConfig{ListenAddr: ":0", APIKeyHash: apiKeyHash}
	return &testServer{
		server: NewServer(cfg, campaigns, leads, orch, monitor, m, logger),
		conn:   conn,
		leads:  leads,
	}
}

func (ts *testServer) request(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func createCampaign(t *testing.T, ts *testServer, leadCount int) string {
	t.Helper()

	w := ts.request(t, http.MethodPost, "/api/v1/campaigns", CreateCampaignRequest{
		Name:      "launch",
		FromEmail: "news@example.com",
		Subject:   "hello",
		Body:      "body",
		Pacing:    &models.PacingConfig{MinDelayMs: 1, MaxDelayMs: 2},
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create campaign status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decode[CampaignResponse](t, w)

	if leadCount > 0 {
		leads := make([]LeadInput, leadCount)
		for i := range leads {
			leads[i] = LeadInput{Email: fmt.Sprintf("user%d@example.com", i)}
		}
		w = ts.request(t, http.MethodPost, "/api/v1/campaigns/"+resp.ID+"/leads",
			AddLeadsRequest{Leads: leads}, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("add leads status = %d, body %s", w.Code, w.Body.String())
		}
	}
	return resp.ID
}

func waitForCampaignStatus(t *testing.T, ts *testServer, id, want string) CampaignResponse {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		w := ts.request(t, http.MethodGet, "/api/v1/campaigns/"+id, nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("get campaign status = %d", w.Code)
		}
		resp := decode[CampaignResponse](t, w)
		if resp.Status == want {
			return resp
		}
		select {
		case <-deadline:
			t.Fatalf("campaign status = %q, want %q", resp.Status, want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHealthRequiresNoAuth(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	ts := newTestServer(t, string(hash))

	w := ts.request(t, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	ts := newTestServer(t, string(hash))

	w := ts.request(t, http.MethodGet, "/api/v1/campaigns/x", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status without key = %d, want 401", w.Code)
	}

	w = ts.request(t, http.MethodGet, "/api/v1/campaigns/x", nil,
		map[string]string{"Authorization": "Bearer wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status with wrong key = %d, want 401", w.Code)
	}

	w = ts.request(t, http.MethodGet, "/api/v1/campaigns/x", nil,
		map[string]string{"Authorization": "Bearer secret"})
	if w.Code != http.StatusNotFound {
		t.Errorf("status with valid key = %d, want 404", w.Code)
	}

	w = ts.request(t, http.MethodGet, "/api/v1/campaigns/x", nil,
		map[string]string{"X-API-Key": "secret"})
	if w.Code != http.StatusNotFound {
		t.Errorf("status with X-API-Key = %d, want 404", w.Code)
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	ts := newTestServer(t, "")

	tests := []struct {
		name string
		req  CreateCampaignRequest
	}{
		{"missing name", CreateCampaignRequest{FromEmail: "a@b.com", Subject: "s"}},
		{"bad from", CreateCampaignRequest{Name: "n", FromEmail: "not-an-email", Subject: "s"}},
		{"missing subject", CreateCampaignRequest{Name: "n", FromEmail: "a@b.com"}},
		{"broken template", CreateCampaignRequest{
			Name: "n", FromEmail: "a@b.com", Subject: "Hi {{.Name", Body: "b",
		}},
		{"inverted pacing", CreateCampaignRequest{
			Name: "n", FromEmail: "a@b.com", Subject: "s",
			Pacing: &models.PacingConfig{MinDelayMs: 5000, MaxDelayMs: 1000},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.request(t, http.MethodPost, "/api/v1/campaigns", tt.req, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestCampaignLifecycleOverAPI(t *testing.T) {
	ts := newTestServer(t, "")
	id := createCampaign(t, ts, 3)

	w := ts.request(t, http.MethodPost, "/api/v1/campaigns/"+id+"/start", nil, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, body %s", w.Code, w.Body.String())
	}

	done := waitForCampaignStatus(t, ts, id, string(models.CampaignCompleted))
	if done.ProcessedCount != 3 {
		t.Errorf("processed count = %d, want 3", done.ProcessedCount)
	}

	// terminal campaigns reject further control actions
	w = ts.request(t, http.MethodPost, "/api/v1/campaigns/"+id+"/start", nil, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("restart status = %d, want 409", w.Code)
	}
	w = ts.request(t, http.MethodPost, "/api/v1/campaigns/"+id+"/abort", nil, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("abort status = %d, want 409", w.Code)
	}
}

func TestPlanEndpoint(t *testing.T) {
	ts := newTestServer(t, "")
	id := createCampaign(t, ts, 4)

	w := ts.request(t, http.MethodGet, "/api/v1/campaigns/"+id+"/plan", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("plan status = %d, body %s", w.Code, w.Body.String())
	}
	report := decode[orchestrator.PlanReport](t, w)
	if report.Remaining != 4 {
		t.Errorf("remaining = %d, want 4", report.Remaining)
	}
	if report.Batches < 1 {
		t.Errorf("batches = %d, want at least 1", report.Batches)
	}

	w = ts.request(t, http.MethodGet, "/api/v1/campaigns/missing/plan", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("plan for unknown campaign status = %d, want 404", w.Code)
	}
}

func TestStartWithoutLeads(t *testing.T) {
	ts := newTestServer(t, "")
	id := createCampaign(t, ts, 0)

	w := ts.request(t, http.MethodPost, "/api/v1/campaigns/"+id+"/start", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("start status = %d, want 400", w.Code)
	}
}

func TestAddLeadsAfterStartRejected(t *testing.T) {
	ts := newTestServer(t, "")
	id := createCampaign(t, ts, 3)

	if w := ts.request(t, http.MethodPost, "/api/v1/campaigns/"+id+"/start", nil, nil); w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d", w.Code)
	}
	waitForCampaignStatus(t, ts, id, string(models.CampaignCompleted))

	w := ts.request(t, http.MethodPost, "/api/v1/campaigns/"+id+"/leads",
		AddLeadsRequest{Leads: []LeadInput{{Email: "late@example.com"}}}, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("add leads status = %d, want 409", w.Code)
	}
}

func TestEventsWebhookFeedsMonitor(t *testing.T) {
	ts := newTestServer(t, "")
	id := createCampaign(t, ts, 1)

	if w := ts.request(t, http.MethodPost, "/api/v1/campaigns/"+id+"/start", nil, nil); w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d", w.Code)
	}
	waitForCampaignStatus(t, ts, id, string(models.CampaignCompleted))

	lead, err := ts.leads.GetByPosition(id, 0)
	if err != nil {
		t.Fatalf("GetByPosition() error = %v", err)
	}
	if lead.CorrelationID == "" {
		t.Fatal("sent lead has no correlation id")
	}

	w := ts.request(t, http.MethodPost, "/api/v1/events", EventsRequest{
		Events: []models.FeedbackEvent{{
			Type:          models.FeedbackDelivery,
			CorrelationID: lead.CorrelationID,
		}},
	}, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("events status = %d, body %s", w.Code, w.Body.String())
	}

	deadline := time.After(2 * time.Second)
	for {
		got, err := ts.leads.GetByPosition(id, 0)
		if err != nil {
			t.Fatalf("GetByPosition() error = %v", err)
		}
		if got.Status == models.LeadDelivered {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("lead status = %q, want %q", got.Status, models.LeadDelivered)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRecoverEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.request(t, http.MethodPost, "/api/v1/recover", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("recover status = %d", w.Code)
	}
	report := decode[orchestrator.RecoverReport](t, w)
	if report.StaleLocksCleared != 0 {
		t.Errorf("stale locks cleared = %d, want 0", report.StaleLocksCleared)
	}
}

func TestEventsRejectsEmptyBatch(t *testing.T) {
	ts := newTestServer(t, "")

	w := ts.request(t, http.MethodPost, "/api/v1/events", EventsRequest{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("events status = %d, want 400", w.Code)
	}
}
