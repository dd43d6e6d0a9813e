// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package audit logs the lifecycle of every accepted or rejected command,
// correlated by request id, so a single command can be traced end to end
// through the logs.
package audit

import (
	"grimm.is/rfw/internal/logging"
	"grimm.is/rfw/internal/rule"
)

// Outcome is the terminal state of a command after the worker processed it.
type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeDeduped       Outcome = "deduped"
	OutcomeDriverFailure Outcome = "driver_failure"
	OutcomeRejected      Outcome = "rejected"
)

// Logger emits one structured line per command lifecycle transition.
type Logger struct {
	log *logging.Logger
}

// NewLogger wraps log (or the package default, if nil) as an audit logger.
func NewLogger(log *logging.Logger) *Logger {
	if log == nil {
		log = logging.Default()
	}
	return &Logger{log: log.WithComponent("audit")}
}

// Accepted records that a command was put onto the command queue.
func (l *Logger) Accepted(requestID string, modify byte, r rule.Rule) {
	l.log.Info("command accepted", "request_id", requestID, "modify", string(modify), "rule", r.String())
}

// Rejected records that a command was refused before reaching the queue
// (e.g. a whitelist conflict).
func (l *Logger) Rejected(requestID, reason string) {
	l.log.Warn("command rejected", "request_id", requestID, "reason", reason)
}

// Settled records the terminal outcome of a command the worker processed.
func (l *Logger) Settled(requestID string, modify byte, r rule.Rule, outcome Outcome, err error) {
	if err != nil {
		l.log.Error("command settled", "request_id", requestID, "modify", string(modify), "rule", r.String(), "outcome", outcome, "error", err)
		return
	}
	l.log.Info("command settled", "request_id", requestID, "modify", string(modify), "rule", r.String(), "outcome", outcome)
}
