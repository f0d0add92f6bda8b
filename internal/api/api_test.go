package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/chainledger/internal/api"
	"github.com/jmerrifield20/chainledger/internal/identity"
	"github.com/jmerrifield20/chainledger/internal/ledger"
	"github.com/jmerrifield20/chainledger/internal/verify"
)

type testEnv struct {
	router *gin.Engine
	ledger *ledger.Ledger
	store  *ledger.MemoryStore
	hub    *api.Hub
}

type envOption func(*api.RouterConfig)

func withTokens(ti *identity.ActorTokenIssuer) envOption {
	return func(c *api.RouterConfig) { c.Tokens = ti }
}

func withAdminHash(h string) envOption {
	return func(c *api.RouterConfig) { c.AdminSecretHash = h }
}

func withRateLimit(rps int) envOption {
	return func(c *api.RouterConfig) { c.RateLimit = api.RateLimitConfig{RPS: rps} }
}

func setupRouter(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := ledger.NewMemoryStore()
	hub := api.NewHub(zap.NewNop())
	l := ledger.New(mem, ledger.WithOnAppend(hub.Publish), ledger.WithOnAppend(api.RecordAppend))
	cfg := api.RouterConfig{
		Ledger: l,
		Engine: verify.New(l),
		Hub:    hub,
		Logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(hub.Close)
	return &testEnv{router: api.NewRouter(ctx, cfg), ledger: l, store: mem, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatal(err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) commit(t *testing.T, recordID string, content any) *ledger.Block {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/blocks", map[string]any{
		"record_id":   recordID,
		"entity_kind": "goal",
		"content":     content,
		"actor":       "analyst",
		"reason":      "initial load",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("commit %s: expected 201, got %d: %s", recordID, w.Code, w.Body.String())
	}
	var b ledger.Block
	if err := json.Unmarshal(w.Body.Bytes(), &b); err != nil {
		t.Fatal(err)
	}
	return &b
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	env := setupRouter(t)
	w := env.do(t, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get(api.RequestIDHeader) == "" {
		t.Error("expected a request id header")
	}
}

func TestRequestID_reusesValidHeader(t *testing.T) {
	env := setupRouter(t)
	const id = "3f0c9a52-4b7e-4f4e-9d55-1c1c4f8e2a10"
	w := env.do(t, http.MethodGet, "/healthz", nil, api.RequestIDHeader, id)
	if got := w.Header().Get(api.RequestIDHeader); got != id {
		t.Errorf("request id = %q, want %q", got, id)
	}

	w = env.do(t, http.MethodGet, "/healthz", nil, api.RequestIDHeader, "not-a-uuid")
	if got := w.Header().Get(api.RequestIDHeader); got == "not-a-uuid" || got == "" {
		t.Errorf("request id = %q, want a fresh uuid", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupRouter(t)
	env.commit(t, "META-001", map[string]any{"valor": 10})

	w := env.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("ledger_appends_total")) {
		t.Error("expected ledger_appends_total in metrics output")
	}
}

func TestRateLimiter_429(t *testing.T) {
	env := setupRouter(t, withRateLimit(1))

	var limited bool
	for range 5 {
		if w := env.do(t, http.MethodGet, "/healthz", nil); w.Code == http.StatusTooManyRequests {
			limited = true
			if w.Header().Get("Retry-After") == "" {
				t.Error("expected Retry-After header")
			}
			break
		}
	}
	if !limited {
		t.Error("expected a 429 after exceeding the burst")
	}
}

func TestStream_receivesAppendedBlocks(t *testing.T) {
	env := setupRouter(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialStream(t, srv.URL)
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if env.hub.Clients() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", env.hub.Clients())
	}

	_, err := env.ledger.Append(context.Background(), ledger.AppendRequest{
		RecordID: "SENSOR-1", EntityKind: "sensor_reading",
		Content: rawContent(`{"temp":21.5}`), Actor: "sensor-7",
	})
	if err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got ledger.Block
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.RecordID != "SENSOR-1" || got.Index != 0 {
		t.Errorf("streamed block = %+v", got)
	}
}
