// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"grimm.is/rfw/internal/logging"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestWhitelistGuardAllowsListedRemote(t *testing.T) {
	h := whitelistGuard([]string{"10.0.0.5"}, logging.Default(), okHandler())
	req := httptest.NewRequest(http.MethodGet, "/list", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for whitelisted remote, got %d", rec.Code)
	}
}

func TestWhitelistGuardRejectsUnlistedRemote(t *testing.T) {
	h := whitelistGuard([]string{"10.0.0.5"}, logging.Default(), okHandler())
	req := httptest.NewRequest(http.MethodGet, "/list", nil)
	req.RemoteAddr = "192.168.1.9:54321"
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-whitelisted remote, got %d", rec.Code)
	}
}

func TestBasicAuthRejectsMissingCredentials(t *testing.T) {
	h := basicAuth("admin", "secret", okHandler())
	req := httptest.NewRequest(http.MethodGet, "/list", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with no credentials, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Errorf("expected WWW-Authenticate challenge header to be set")
	}
}

func TestBasicAuthRejectsWrongPassword(t *testing.T) {
	h := basicAuth("admin", "secret", okHandler())
	req := httptest.NewRequest(http.MethodGet, "/list", nil)
	req.SetBasicAuth("admin", "wrong")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong password, got %d", rec.Code)
	}
}

func TestBasicAuthAcceptsCorrectCredentials(t *testing.T) {
	h := basicAuth("admin", "secret", okHandler())
	req := httptest.NewRequest(http.MethodGet, "/list", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with correct credentials, got %d", rec.Code)
	}
}
