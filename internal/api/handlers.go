// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"grimm.is/rfw/internal/cmdparse"
	"grimm.is/rfw/internal/engine"
	"grimm.is/rfw/internal/errors"
	"grimm.is/rfw/internal/iputil"
	"grimm.is/rfw/internal/rule"
)

// registerOpsRoutes wires the operational endpoints — Prometheus scraping
// and a liveness probe — ahead of the command-grammar catch-all, on both
// listeners.
func registerOpsRoutes(router *mux.Router, deps Deps) {
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
}

// handler holds the collaborators both the local and outward listeners
// dispatch into once a request has cleared their respective middleware.
type handler struct {
	deps Deps
}

// modifyForMethod maps the HTTP verb to the Python 'I'/'D'/'L' modify code:
// PUT inserts, DELETE deletes, GET lists/reads.
func modifyForMethod(method string) (byte, bool) {
	switch method {
	case http.MethodPut:
		return 'I', true
	case http.MethodDelete:
		return 'D', true
	case http.MethodGet:
		return 'L', true
	default:
		return 0, false
	}
}

func (h *handler) serveLocal(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r)
}

func (h *handler) serveOutward(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r)
}

func (h *handler) dispatch(w http.ResponseWriter, r *http.Request) {
	modify, ok := modifyForMethod(r.Method)
	if !ok {
		httpError(w, http.StatusMethodNotAllowed, "unsupported method")
		return
	}

	action, built, chain, directives, err := cmdparse.ParseCommand(r.URL.String(), h.deps.Registry)
	if err != nil {
		h.deps.logger().Info("bad request", "remote", clientIP(r), "error", err)
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Non-RESTful override: only a GET, and only when configured, lets the
	// modify query parameter stand in for PUT/DELETE (spec.md §4.B/§4.G).
	if modify == 'L' && h.deps.NonRestful {
		switch directives.Modify {
		case "insert":
			modify = 'I'
		case "delete":
			modify = 'D'
		}
	}

	if modify == 'L' {
		h.handleRead(w, r, action, chain)
		return
	}

	if built == nil || !h.deps.Registry.HasTarget(built.Target) {
		httpError(w, http.StatusBadRequest, "unrecognized command")
		return
	}

	if err := h.checkWhitelistConflict(built.Source, built.Destination); err != nil {
		h.deps.logger().Warn("command rejected by whitelist guard", "remote", clientIP(r), "error", err)
		if h.deps.Audit != nil {
			h.deps.Audit.Rejected("", err.Error())
		}
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	requestID := h.deps.Engine.Enqueue(engineCommand(modify, *built, directives))
	if h.deps.Audit != nil {
		h.deps.Audit.Accepted(requestID, modify, *built)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": requestID,
		"modify":     string(modify),
		"rule":       built,
	})
}

// checkWhitelistConflict refuses a command touching a whitelisted endpoint
// before it ever reaches the command queue, so an accidental lockout can
// never even get as far as the expiry scheduler.
func (h *handler) checkWhitelistConflict(source, destination string) error {
	for _, addr := range []string{source, destination} {
		if addr != rule.DefaultAddress && iputil.IPInList(addr, h.whitelist()) {
			return errors.New(errors.KindValidation, "request conflicts with the whitelist")
		}
	}
	return nil
}

func (h *handler) whitelist() []string {
	return h.deps.Whitelist
}

func engineCommand(modify byte, r rule.Rule, d cmdparse.Directives) engine.Command {
	return engine.Command{Modify: modify, Rule: r, Directives: d}
}

func (h *handler) handleRead(w http.ResponseWriter, r *http.Request, action, chain string) {
	switch action {
	case "help":
		writeJSON(w, http.StatusOK, map[string]string{"usage": usageText})
	case "list":
		ctx := r.Context()
		live, err := h.deps.Driver.List(ctx)
		if err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		rules := h.deps.Driver.ReadSimpleRules(live, chain, false)
		writeJSON(w, http.StatusOK, rules)
	default:
		httpError(w, http.StatusBadRequest, "unrecognized command")
	}
}

const usageText = "PUT/DELETE /<target>/<chain>/<iface>/<ip[:port]>[/<mask>...] to mutate rules; " +
	"GET /list[/<chain>] to read them; query params: expire=<n>[smhd], modify=insert|delete, wait=true"

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
