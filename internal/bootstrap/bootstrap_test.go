// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"grimm.is/rfw/internal/pfdriver"
	"grimm.is/rfw/internal/rule"
)

// fakeIptables writes a shell script standing in for the real binary: `-L`
// listing returns an empty ruleset, everything else (the -I/-D mutations
// this package issues) just records its argv and succeeds. Good enough to
// exercise Lockdown's call sequence without a real netfilter table.
func fakeIptables(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake iptables script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "iptables")
	script := `#!/bin/sh
log="$(dirname "$0")/calls.log"
echo "$@" >> "$log"
for arg in "$@"; do
  if [ "$arg" = "-L" ]; then
    echo "Chain INPUT (policy ACCEPT)"
    echo "num   pkts      bytes target     prot opt in     out     source               destination"
    exit 0
  fi
done
exit 0
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake iptables script: %v", err)
	}
	return path
}

func TestLockdownInsertsDropThenAcceptsPerWhitelistEntry(t *testing.T) {
	path := fakeIptables(t)
	reg := rule.NewRegistry()
	driver := pfdriver.New(path, reg, nil)

	err := Lockdown(context.Background(), driver, nil, Options{
		Port:      7866,
		Whitelist: []string{"10.0.0.5", "10.0.0.6"},
	})
	if err != nil {
		t.Fatalf("Lockdown returned error: %v", err)
	}

	log, err := os.ReadFile(filepath.Join(filepath.Dir(path), "calls.log"))
	if err != nil {
		t.Fatalf("reading call log: %v", err)
	}
	calls := strings.Split(strings.TrimSpace(string(log)), "\n")

	var dropInput, dropOutput, acceptFor5, acceptFor6 bool
	for _, c := range calls {
		switch {
		case strings.Contains(c, "-I INPUT") && strings.Contains(c, "DROP") && strings.Contains(c, "--dport 7866"):
			dropInput = true
		case strings.Contains(c, "-I OUTPUT") && strings.Contains(c, "DROP") && strings.Contains(c, "--sport 7866"):
			dropOutput = true
		case strings.Contains(c, "-I INPUT") && strings.Contains(c, "ACCEPT") && strings.Contains(c, "10.0.0.5"):
			acceptFor5 = true
		case strings.Contains(c, "-I INPUT") && strings.Contains(c, "ACCEPT") && strings.Contains(c, "10.0.0.6"):
			acceptFor6 = true
		}
	}
	if !dropInput || !dropOutput {
		t.Errorf("expected catch-all DROP rules on both chains, calls: %v", calls)
	}
	if !acceptFor5 || !acceptFor6 {
		t.Errorf("expected an ACCEPT rule per whitelisted host, calls: %v", calls)
	}
}

func TestLockdownToleratesMissingStaleRulesToDelete(t *testing.T) {
	path := fakeIptables(t)
	reg := rule.NewRegistry()
	driver := pfdriver.New(path, reg, nil)

	// No prior rules exist (the fake -L returns an empty table), so the
	// delete-stale-rule step should simply find nothing to remove and the
	// run should still succeed.
	if err := Lockdown(context.Background(), driver, nil, Options{Port: 7865}); err != nil {
		t.Fatalf("Lockdown with no whitelist entries returned error: %v", err)
	}
}
