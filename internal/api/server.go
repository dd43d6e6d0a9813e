// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api exposes the two HTTP front ends a running agent listens on: a
// loopback-only plain listener meant for trusted local callers, and an
// outward TLS+BasicAuth listener meant to be reachable from the whitelisted
// control hosts. Both speak the same PUT/DELETE/GET-over-path grammar
// translated by cmdparse; they differ only in what guards a request before it
// reaches that grammar. See rfw.py's LocalRequestHandler/OutwardRequestHandler
// for the split this generalizes.
package api

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"grimm.is/rfw/internal/audit"
	"grimm.is/rfw/internal/engine"
	"grimm.is/rfw/internal/logging"
	"grimm.is/rfw/internal/metrics"
	"grimm.is/rfw/internal/pfdriver"
	"grimm.is/rfw/internal/rule"
)

// ServerConfig holds the timeout/limit knobs applied to every listener this
// package starts.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
}

// DefaultServerConfig returns conservative timeouts suitable for a
// command-and-control endpoint that should never be left waiting on a slow
// or hostile client.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
}

// Deps are the shared collaborators both listeners dispatch into.
type Deps struct {
	Engine    *engine.Engine
	Driver    *pfdriver.Driver
	Registry  *rule.Registry
	Log       *logging.Logger
	Metrics   *metrics.Collector
	Audit     *audit.Logger
	Whitelist []string
	// NonRestful, when true, lets a GET's modify=insert|delete query
	// parameter override the verb-derived modify code (SPEC_FULL.md §4.J).
	NonRestful bool
}

func (d Deps) logger() *logging.Logger {
	if d.Log != nil {
		return d.Log
	}
	return logging.Default()
}

// LocalOptions configures the loopback listener: no authentication, no
// whitelist check, because only a caller already on the host can reach it.
type LocalOptions struct {
	Deps
	Addr string // defaults to 127.0.0.1:7866
}

// OutwardOptions configures the externally reachable listener: TLS plus
// HTTP Basic Auth plus a whitelist check on the remote address, mirroring
// the defense-in-depth rfw.py's OutwardRequestHandler applies even though
// the surrounding firewall should already be blocking non-whitelisted
// traffic.
type OutwardOptions struct {
	Deps
	Addr     string // defaults to 0.0.0.0:7865
	CertFile string
	KeyFile  string
	Username string
	Password string
}

// NewLocalServer builds the loopback *http.Server. Call ListenAndServe on
// the result, or Shutdown to stop it.
func NewLocalServer(opts LocalOptions) *http.Server {
	addr := opts.Addr
	if addr == "" {
		addr = "127.0.0.1:7866"
	}
	h := &handler{deps: opts.Deps}
	router := mux.NewRouter()
	registerOpsRoutes(router, opts.Deps)
	router.PathPrefix("/").HandlerFunc(h.serveLocal)
	cfg := DefaultServerConfig()
	return &http.Server{
		Addr:              addr,
		Handler:           accessLog(opts.logger(), router),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}

// NewOutwardServer builds the TLS *http.Server for the outward listener.
// The returned TLSConfig carries no certificate, so start it with
// Serve(ctx, srv, opts.CertFile, opts.KeyFile) or
// ListenAndServeTLS(opts.CertFile, opts.KeyFile).
func NewOutwardServer(opts OutwardOptions) *http.Server {
	addr := opts.Addr
	if addr == "" {
		addr = "0.0.0.0:7865"
	}
	h := &handler{deps: opts.Deps}
	router := mux.NewRouter()
	registerOpsRoutes(router, opts.Deps)
	router.PathPrefix("/").HandlerFunc(h.serveOutward)

	chain := accessLog(opts.logger(), whitelistGuard(opts.Whitelist, opts.logger(), basicAuth(opts.Username, opts.Password, router)))

	cfg := DefaultServerConfig()
	return &http.Server{
		Addr:              addr,
		Handler:           chain,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
// certFile/keyFile are non-empty only for the TLS listener.
func Serve(ctx context.Context, srv *http.Server, certFile, keyFile string) error {
	errc := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errc <- err
			return
		}
		errc <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
