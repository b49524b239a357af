package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type mockIBus struct{ joined bool }

func (m *mockIBus) IsJoined() bool { return m.joined }

type mockInstance struct{ ready bool }

func (m *mockInstance) Ready() bool { return m.ready }

type mockDBChecker struct{ err error }

func (m *mockDBChecker) Ping(_ context.Context) error { return m.err }

func newTestServer(ibusJoined bool, instances map[string]InstanceStatus) *Server {
	logger := zap.NewNop()
	ib := &mockIBus{joined: ibusJoined}
	// nil pool: readyz will report southbound_db as "disabled".
	return NewServer(":0", nil, ib, instances, logger)
}

func newTestServerWithDB(db DBChecker, ibusJoined bool, instances map[string]InstanceStatus) *Server {
	s := newTestServer(ibusJoined, instances)
	s.dbChecker = db
	return s
}

func TestHealthz_AlwaysOK(t *testing.T) {
	s := newTestServer(false, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.handleHealthz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", body["status"])
	}
}

func TestHealthz_ContentType(t *testing.T) {
	s := newTestServer(false, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.handleHealthz(w, req)

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
}

func TestReadyz_NotReady_IBusNotJoined(t *testing.T) {
	s := newTestServer(false, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%v'", body["status"])
	}

	checks := body["checks"].(map[string]any)
	if checks["ibus"] != "not_joined" {
		t.Errorf("expected ibus 'not_joined', got '%v'", checks["ibus"])
	}
	if checks["southbound_db"] != "disabled" {
		t.Errorf("expected southbound_db 'disabled' (nil pool), got '%v'", checks["southbound_db"])
	}
}

func TestReadyz_InstanceNotReadyFailsOverall(t *testing.T) {
	instances := map[string]InstanceStatus{
		"bgp-default": &mockInstance{ready: false},
	}
	s := newTestServer(true, instances)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	checks := body["checks"].(map[string]any)
	if checks["instance_bgp-default"] != "not_ready" {
		t.Errorf("expected instance_bgp-default 'not_ready', got '%v'", checks["instance_bgp-default"])
	}
}

func TestReadyz_ContentType(t *testing.T) {
	s := newTestServer(false, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	ct := w.Header().Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
}

func TestReadyz_AllHealthy(t *testing.T) {
	db := &mockDBChecker{err: nil}
	instances := map[string]InstanceStatus{
		"bgp-default":  &mockInstance{ready: true},
		"ospf-default": &mockInstance{ready: true},
	}
	s := newTestServerWithDB(db, true, instances)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	s.handleReadyz(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ready" {
		t.Errorf("expected status 'ready', got '%v'", body["status"])
	}

	checks := body["checks"].(map[string]any)
	if checks["southbound_db"] != "ok" {
		t.Errorf("expected southbound_db 'ok', got '%v'", checks["southbound_db"])
	}
	if checks["ibus"] != "ok" {
		t.Errorf("expected ibus 'ok', got '%v'", checks["ibus"])
	}
	if checks["instance_bgp-default"] != "ok" {
		t.Errorf("expected instance_bgp-default 'ok', got '%v'", checks["instance_bgp-default"])
	}
	if checks["instance_ospf-default"] != "ok" {
		t.Errorf("expected instance_ospf-default 'ok', got '%v'", checks["instance_ospf-default"])
	}
}
