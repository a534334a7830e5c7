package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ossp-agi/agentmesh/internal/discovery"
	"github.com/ossp-agi/agentmesh/internal/registry"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := registry.DefaultConfig()
	cfg.DataDir = t.TempDir()
	store := registry.New(cfg, nil)
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Shutdown(context.Background()) })

	discSvc := discovery.New(discovery.DefaultConfig(), store)

	apiCfg := DefaultConfig()
	apiCfg.RateLimit.Max = 0 // disabled for most handler tests
	return NewServer(apiCfg, store, discSvc, nil)
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRegisterAndGetAgent(t *testing.T) {
	s := newTestServer(t)

	record := registry.Record{
		URN:         "urn:agent:ai:ml-agent",
		Name:        "ml-agent",
		Version:     "1.0.0",
		Description: "test agent",
		Capabilities: map[string]registry.Capability{
			"classify": {Type: "inference", Description: "classifies"},
		},
	}
	rec := doRequest(s, http.MethodPost, "/api/v1/agents", record)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, http.MethodGet, "/api/v1/agents/urn%3Aagent%3Aai%3Aml-agent", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestRegisterDuplicateReturns409(t *testing.T) {
	s := newTestServer(t)
	record := registry.Record{
		URN:         "urn:agent:ai:ml-agent",
		Name:        "ml-agent",
		Version:     "1.0.0",
		Description: "test agent",
	}
	if rec := doRequest(s, http.MethodPost, "/api/v1/agents", record); rec.Code != http.StatusCreated {
		t.Fatalf("first register status = %d, want 201", rec.Code)
	}
	rec := doRequest(s, http.MethodPost, "/api/v1/agents", record)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestGetUnknownAgentReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/v1/agents/urn%3Aagent%3Aai%3Anope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestUnknownRouteReturns404WithRouteList(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/v1/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if _, ok := body["availableRoutes"]; !ok {
		t.Error("expected availableRoutes in the 404 body")
	}
}

func TestDiscoverEndpoint(t *testing.T) {
	s := newTestServer(t)
	record := registry.Record{
		URN:         "urn:agent:ai:ml-agent",
		Name:        "ml-agent",
		Version:     "1.0.0",
		Description: "test agent",
	}
	doRequest(s, http.MethodPost, "/api/v1/agents", record)

	rec := doRequest(s, http.MethodGet, "/api/v1/discover?domain=ai", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestDiscoverBadSortFieldReturns400(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/v1/discover?sort=not-a-field", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestDiscoverNegativeLimitReturns400(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/v1/discover?limit=-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestDiscoverNegativeOffsetReturns400(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/v1/discover?offset=-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestWellKnownManifest(t *testing.T) {
	s := newTestServer(t)
	record := registry.Record{
		URN:         "urn:agent:ai:ml-agent",
		Name:        "ml-agent",
		Version:     "1.0.0",
		Description: "test agent",
	}
	doRequest(s, http.MethodPost, "/api/v1/agents", record)

	rec := doRequest(s, http.MethodGet, "/.well-known/agent-capabilities/urn%3Aagent%3Aai%3Aml-agent", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestRateLimitRejectsOverQuota(t *testing.T) {
	cfg := registry.DefaultConfig()
	cfg.DataDir = t.TempDir()
	store := registry.New(cfg, nil)
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	defer store.Shutdown(context.Background())
	discSvc := discovery.New(discovery.DefaultConfig(), store)

	apiCfg := DefaultConfig()
	apiCfg.RateLimit = RateLimitConfig{WindowMs: 60_000, Max: 1}
	s := NewServer(apiCfg, store, discSvc, nil)

	first := doRequest(s, http.MethodGet, "/api/v1/health", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", first.Code)
	}
	second := doRequest(s, http.MethodGet, "/api/v1/health", nil)
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", second.Code)
	}
}
