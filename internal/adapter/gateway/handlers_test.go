package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"recalld/internal/domain"
	"recalld/internal/infra/config"
)

// stubEngine is a canned-response Engine for handler tests.
type stubEngine struct {
	storeErr  error
	recallErr error
	statsErr  error
	degraded  bool

	lastSessionID string
	lastContent   string
	lastQuery     string
	lastLimit     int
}

func (s *stubEngine) StoreContext(ctx context.Context, sessionID, content, contextType string, metadata map[string]string) (domain.Memory, error) {
	if s.storeErr != nil {
		return domain.Memory{}, s.storeErr
	}
	s.lastSessionID = sessionID
	s.lastContent = content
	return domain.Memory{
		ID:          "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Content:     content,
		ContextType: contextType,
		SessionID:   sessionID,
		Metadata:    metadata,
		Importance:  0.7,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (s *stubEngine) RetrieveFast(ctx context.Context, sessionID, query string, limit int) (domain.RecallResult, error) {
	if s.recallErr != nil {
		return domain.RecallResult{}, s.recallErr
	}
	s.lastSessionID = sessionID
	s.lastQuery = query
	s.lastLimit = limit
	return domain.RecallResult{
		Memories: []domain.ScoredMemory{
			{Memory: domain.Memory{ID: "m1", Content: "remembered", SessionID: sessionID}, Relevance: 0.9},
		},
		QueryTimeMS: 3.2,
		Summary:     "remembered",
		Degraded:    s.degraded,
	}, nil
}

func (s *stubEngine) Status(ctx context.Context) (domain.EngineStatus, error) {
	return domain.EngineStatus{
		TotalContexts:    42,
		ActiveSessions:   3,
		MemoryUsageBytes: 4096,
		AvgRetrievalMS:   5.5,
	}, nil
}

func (s *stubEngine) SessionStats(ctx context.Context, sessionID string) (domain.SessionStats, error) {
	if s.statsErr != nil {
		return domain.SessionStats{}, s.statsErr
	}
	return domain.SessionStats{TotalMemories: 7, AverageImportance: 0.6}, nil
}

func newTestGateway(t *testing.T, engine Engine) *httptest.Server {
	t.Helper()
	cfg := config.GatewayConfig{Addr: "127.0.0.1:0", RateLimitPerMin: 0}
	srv := NewServer(engine, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ts := httptest.NewServer(srv.buildHandler(ctx))
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStoreContextHandler(t *testing.T) {
	eng := &stubEngine{}
	ts := newTestGateway(t, eng)

	resp := postJSON(t, ts.URL+"/api/v1/contexts",
		`{"session_id":"sess-a","content":"user likes apples","context_type":"fact"}`)

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var mem domain.Memory
	if err := json.NewDecoder(resp.Body).Decode(&mem); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mem.ID == "" || mem.SessionID != "sess-a" {
		t.Errorf("unexpected memory: %+v", mem)
	}
	if eng.lastContent != "user likes apples" {
		t.Errorf("engine saw content %q", eng.lastContent)
	}
}

func TestStoreContextHandlerBadJSON(t *testing.T) {
	ts := newTestGateway(t, &stubEngine{})

	resp := postJSON(t, ts.URL+"/api/v1/contexts", `{"session_id":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != domain.CodeInvalidInput {
		t.Errorf("code = %s, want %s", body.Code, domain.CodeInvalidInput)
	}
}

func TestStoreContextHandlerUnknownField(t *testing.T) {
	ts := newTestGateway(t, &stubEngine{})

	resp := postJSON(t, ts.URL+"/api/v1/contexts",
		`{"session_id":"sess-a","content":"x","bogus":true}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStoreContextHandlerEngineError(t *testing.T) {
	eng := &stubEngine{storeErr: domain.NewDomainError("Engine.StoreContext", domain.ErrInvalidInput, "content is empty")}
	ts := newTestGateway(t, eng)

	resp := postJSON(t, ts.URL+"/api/v1/contexts", `{"session_id":"sess-a","content":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRecallHandler(t *testing.T) {
	eng := &stubEngine{}
	ts := newTestGateway(t, eng)

	resp := postJSON(t, ts.URL+"/api/v1/recall",
		`{"session_id":"sess-a","query":"apples","limit":3}`)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var res domain.RecallResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Memories) != 1 || res.Memories[0].Content != "remembered" {
		t.Errorf("unexpected result: %+v", res)
	}
	if eng.lastLimit != 3 {
		t.Errorf("engine saw limit %d, want 3", eng.lastLimit)
	}
}

func TestRecallHandlerDegraded(t *testing.T) {
	ts := newTestGateway(t, &stubEngine{degraded: true})

	resp := postJSON(t, ts.URL+"/api/v1/recall", `{"session_id":"sess-a","query":"apples"}`)
	var res domain.RecallResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Degraded {
		t.Error("degraded flag not propagated")
	}
}

func TestRecallHandlerServiceUnavailable(t *testing.T) {
	eng := &stubEngine{recallErr: domain.NewDomainError("Engine.RetrieveFast", domain.ErrEngineClosed, "")}
	ts := newTestGateway(t, eng)

	resp := postJSON(t, ts.URL+"/api/v1/recall", `{"session_id":"sess-a","query":"apples"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestStatusHandler(t *testing.T) {
	ts := newTestGateway(t, &stubEngine{})

	resp, err := http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var status domain.EngineStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.TotalContexts != 42 || status.ActiveSessions != 3 {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestSessionStatsHandler(t *testing.T) {
	ts := newTestGateway(t, &stubEngine{})

	resp, err := http.Get(ts.URL + "/api/v1/sessions/sess-a/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var stats domain.SessionStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalMemories != 7 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSessionStatsHandlerNotFound(t *testing.T) {
	eng := &stubEngine{statsErr: domain.NewDomainError("Engine.SessionStats", domain.ErrSessionNotFound, "nope")}
	ts := newTestGateway(t, eng)

	resp, err := http.Get(ts.URL + "/api/v1/sessions/nope/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestGateway(t, &stubEngine{})

	resp, err := http.Get(ts.URL + "/api/v1/contexts")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestGateway(t, &stubEngine{})

	// Generate some traffic first.
	postJSON(t, ts.URL+"/api/v1/contexts", `{"session_id":"sess-a","content":"x"}`)
	postJSON(t, ts.URL+"/api/v1/recall", `{"session_id":"sess-a","query":"x"}`)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	for _, want := range []string{
		"recalld_store_total 1",
		"recalld_recall_total 1",
		"recalld_contexts_total 42",
		"recalld_sessions_active 3",
		"go_goroutines",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
