// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"grimm.is/rfw/internal/audit"
	"grimm.is/rfw/internal/engine"
	"grimm.is/rfw/internal/logging"
	"grimm.is/rfw/internal/rule"
)

func newTestHandler(whitelist []string) *handler {
	return newTestHandlerWithOptions(whitelist, false)
}

func newTestHandlerWithOptions(whitelist []string, nonRestful bool) *handler {
	reg := rule.NewRegistry()
	log := logging.Default()
	eng := engine.New(nil, reg, 0, log, nil, audit.NewLogger(log))
	return &handler{deps: Deps{Engine: eng, Registry: reg, Log: log, Whitelist: whitelist, NonRestful: nonRestful}}
}

func TestDispatchRejectsUnsupportedMethod(t *testing.T) {
	h := newTestHandler(nil)
	req := httptest.NewRequest(http.MethodPost, "/drop/input/eth0/1.2.3.4", nil)
	rec := httptest.NewRecorder()

	h.dispatch(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestDispatchRejectsMalformedCommand(t *testing.T) {
	h := newTestHandler(nil)
	req := httptest.NewRequest(http.MethodPut, "/not-a-real-target/input/eth0/1.2.3.4", nil)
	rec := httptest.NewRecorder()

	h.dispatch(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unrecognized target, got %d", rec.Code)
	}
}

func TestDispatchAcceptsValidInsertAndEnqueues(t *testing.T) {
	h := newTestHandler(nil)
	req := httptest.NewRequest(http.MethodPut, "/drop/input/eth0/1.2.3.4", nil)
	rec := httptest.NewRecorder()

	h.dispatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["request_id"] == "" || body["request_id"] == nil {
		t.Errorf("expected a non-empty request_id, got %+v", body)
	}
	if body["modify"] != "I" {
		t.Errorf("expected modify=I, got %+v", body["modify"])
	}
}

func TestDispatchRejectsCommandConflictingWithWhitelist(t *testing.T) {
	h := newTestHandler([]string{"1.2.3.4"})
	req := httptest.NewRequest(http.MethodPut, "/drop/input/eth0/1.2.3.4", nil)
	rec := httptest.NewRecorder()

	h.dispatch(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a rule touching a whitelisted address, got %d", rec.Code)
	}
}

func TestDispatchHelpAction(t *testing.T) {
	h := newTestHandler(nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	h.dispatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["usage"] == "" {
		t.Errorf("expected non-empty usage text")
	}
}

func TestDispatchNonRestfulOverrideInsertsOnGet(t *testing.T) {
	h := newTestHandlerWithOptions(nil, true)
	req := httptest.NewRequest(http.MethodGet, "/drop/input/eth0/1.2.3.4?modify=insert", nil)
	rec := httptest.NewRecorder()

	h.dispatch(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["modify"] != "I" {
		t.Errorf("expected modify=insert query param to override GET to I, got %+v", body["modify"])
	}
}

func TestDispatchNonRestfulOverrideIgnoredWhenDisabled(t *testing.T) {
	h := newTestHandlerWithOptions(nil, false)
	req := httptest.NewRequest(http.MethodGet, "/drop/input/eth0/1.2.3.4?modify=insert", nil)
	rec := httptest.NewRecorder()

	h.dispatch(rec, req)

	// Without non_restful configured, a GET stays a read regardless of the
	// modify query parameter, and "drop" isn't a valid list/help action.
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 (GET treated as a read) when non_restful is disabled, got %d", rec.Code)
	}
}

func TestHealthzReturnsOK(t *testing.T) {
	srv := NewLocalServer(LocalOptions{Deps: newTestHandler(nil).deps})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from /healthz, got %d", rec.Code)
	}
}
