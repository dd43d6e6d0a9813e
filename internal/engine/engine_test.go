// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"grimm.is/rfw/internal/audit"
	"grimm.is/rfw/internal/cmdparse"
	"grimm.is/rfw/internal/logging"
	"grimm.is/rfw/internal/metrics"
	"grimm.is/rfw/internal/pfdriver"
	"grimm.is/rfw/internal/rule"
)

// fakeDriver points a *pfdriver.Driver at a shell script that accepts any
// invocation and reports an empty ruleset for -L, the same trick
// internal/bootstrap uses to exercise code built on pfdriver.Driver without
// a real netfilter table.
func fakeDriver(t *testing.T, reg *rule.Registry) *pfdriver.Driver {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake iptables script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "iptables")
	script := "#!/bin/sh\nfor arg in \"$@\"; do\n  if [ \"$arg\" = \"-L\" ]; then\n    exit 0\n  fi\ndone\nexit 0\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake iptables script: %v", err)
	}
	return pfdriver.New(path, reg, logging.Default())
}

func newTestEngine(t *testing.T, defaultExpire int) *Engine {
	reg := rule.NewRegistry()
	driver := fakeDriver(t, reg)
	log := logging.Default()
	return New(driver, reg, defaultExpire, log, metrics.NewCollector(), audit.NewLogger(log))
}

func TestProcessInsertThenDeleteRoundTrips(t *testing.T) {
	e := newTestEngine(t, 0)
	r := rule.New(rule.Rule{Target: rule.TargetDrop, Chain: rule.ChainInput, Source: "1.2.3.4"})

	e.process(context.Background(), Command{Modify: 'I', Rule: r, RequestID: "req-1"})
	if !e.ruleExists(Command{Rule: r}) {
		t.Fatalf("expected rule to exist in the in-memory ruleset after insert")
	}

	e.process(context.Background(), Command{Modify: 'D', Rule: r, RequestID: "req-2"})
	if e.ruleExists(Command{Rule: r}) {
		t.Fatalf("expected rule to be gone from the in-memory ruleset after delete")
	}
}

func TestProcessInsertIsIdempotent(t *testing.T) {
	e := newTestEngine(t, 0)
	r := rule.New(rule.Rule{Target: rule.TargetDrop, Chain: rule.ChainInput, Source: "1.2.3.4"})

	e.process(context.Background(), Command{Modify: 'I', Rule: r, RequestID: "req-1"})
	e.process(context.Background(), Command{Modify: 'I', Rule: r, RequestID: "req-2"})

	e.mu.Lock()
	count := len(e.ruleset)
	e.mu.Unlock()
	if count != 1 {
		t.Fatalf("expected a duplicate insert to be deduplicated, ruleset has %d entries", count)
	}
}

func TestProcessDeleteOfUnknownRuleIsNoop(t *testing.T) {
	e := newTestEngine(t, 0)
	r := rule.New(rule.Rule{Target: rule.TargetDrop, Chain: rule.ChainInput, Source: "9.9.9.9"})

	// Deleting something never inserted must not panic or otherwise misbehave.
	e.process(context.Background(), Command{Modify: 'D', Rule: r, RequestID: "req-1"})
}

func TestProcessCreateRegistersNewChain(t *testing.T) {
	e := newTestEngine(t, 0)
	r := rule.New(rule.Rule{Target: rule.TargetCreate, Chain: "MYCHAIN"})

	e.process(context.Background(), Command{Modify: 'I', Rule: r, RequestID: "req-1"})

	if !e.reg.HasChain("MYCHAIN") {
		t.Fatalf("expected CREATE to register the new chain")
	}
}

func TestProcessCreateRenameRegistersCompositeTarget(t *testing.T) {
	e := newTestEngine(t, 0)
	e.reg.AddChain("OLD")
	r := rule.New(rule.Rule{Target: rule.TargetCreate, Chain: "OLD:NEW"})

	e.process(context.Background(), Command{Modify: 'I', Rule: r, RequestID: "req-1"})

	if e.reg.HasChain("OLD") {
		t.Errorf("expected OLD to no longer be registered after rename")
	}
	if !e.reg.HasChain("NEW") {
		t.Errorf("expected NEW to be registered after rename")
	}
	if !e.reg.HasTarget("OLD:NEW") {
		t.Errorf("expected the composite OLD:NEW target to be registered after rename")
	}
}

func TestScheduleExpiryUsesDirectiveOverDefault(t *testing.T) {
	e := newTestEngine(t, 3600)
	r := rule.New(rule.Rule{Target: rule.TargetDrop, Chain: rule.ChainInput, Source: "1.2.3.4"})
	want := 5
	e.scheduleExpiry(r, cmdparse.Directives{Expire: &want})

	item, ok := e.expiryQueue.Peek()
	if !ok {
		t.Fatalf("expected an item to be scheduled")
	}
	if item.expire != want {
		t.Errorf("expected directive expire %d to override default, got %d", want, item.expire)
	}
	if item.tstamp.After(time.Now().Add(6 * time.Second)) {
		t.Errorf("expiry timestamp scheduled too far in the future: %v", item.tstamp)
	}
}

func TestScheduleExpiryZeroDefaultNeverSchedules(t *testing.T) {
	e := newTestEngine(t, 0)
	r := rule.New(rule.Rule{Target: rule.TargetDrop, Chain: rule.ChainInput, Source: "1.2.3.4"})
	e.scheduleExpiry(r, cmdparse.Directives{})

	if _, ok := e.expiryQueue.Peek(); ok {
		t.Errorf("expected no expiry to be scheduled for a permanent rule")
	}
}

func TestEnqueueStampsRequestIDWhenMissing(t *testing.T) {
	e := newTestEngine(t, 0)
	id := e.Enqueue(Command{Modify: 'I', Rule: rule.New(rule.Rule{Target: rule.TargetDrop, Chain: rule.ChainInput})})
	if id == "" {
		t.Fatalf("expected Enqueue to stamp a non-empty request id")
	}
}
