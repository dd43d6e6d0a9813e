// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"crypto/subtle"
	"net/http"

	"grimm.is/rfw/internal/iputil"
	"grimm.is/rfw/internal/logging"
)

// accessLog logs every request the way CommonRequestHandler.log_message
// folds access logs into the main application log rather than a separate
// file.
func accessLog(log *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Info("request", "remote", clientIP(r), "method", r.Method, "path", r.URL.Path, "status", rw.status)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// whitelistGuard rejects any request whose remote address isn't in the
// whitelist. In rfw.py's OutwardRequestHandler this is a defense-in-depth
// check: the surrounding firewall's own whitelist rules should already have
// blocked the connection, so reaching here at all is logged as an error.
func whitelistGuard(whitelist []string, log *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !iputil.IPInList(ip, whitelist) {
			log.Error("request from non-whitelisted client, should have been blocked by firewall", "remote", ip)
			w.WriteHeader(http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// basicAuth requires a valid HTTP Basic Authorization header, the Go
// equivalent of sslserver.py's auth_basic decorator.
func basicAuth(username, password string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="rfw"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
