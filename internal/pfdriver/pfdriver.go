// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package pfdriver is the packet-filter driver: it lists the live ruleset,
// translates a Rule into the packet-filter CLI's argv form, and serializes
// every mutating invocation behind a single process-wide lock (the
// underlying CLI is not safe for concurrent invocation against the same
// table).
package pfdriver

import (
	"bufio"
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"grimm.is/rfw/internal/errors"
	"grimm.is/rfw/internal/logging"
	"grimm.is/rfw/internal/rule"
)

// iptablesHeaders is the exact column header line `-L -v -x --line-numbers`
// prints; a driver built against a packet-filter binary whose output
// doesn't match this is refused rather than silently misparsed.
var iptablesHeaders = []string{"num", "pkts", "bytes", "target", "prot", "opt", "in", "out", "source", "destination"}

var chainHeaderRE = regexp.MustCompile(`^Chain (\w+) .*`)

// Driver runs the packet-filter CLI and parses its output.
type Driver struct {
	path string
	mu   sync.Mutex
	reg  *rule.Registry
	log  *logging.Logger
}

// New returns a Driver that shells out to the binary at path (typically
// "iptables", resolved via PATH unless an absolute path is given).
func New(path string, reg *rule.Registry, log *logging.Logger) *Driver {
	if log == nil {
		log = logging.Default()
	}
	return &Driver{path: path, reg: reg, log: log.WithComponent("pfdriver")}
}

// exe runs the packet-filter CLI with the given arguments under the
// process-wide lock and returns its combined output.
//
// Earlier tooling in this space retried a failed invocation by re-running
// the same argv through a shell, which both duplicated the side effect on a
// transient failure and papered over genuine misconfiguration. This driver
// makes exactly one attempt and turns a failure into a structured error the
// caller can inspect and retry deliberately.
func (d *Driver) exe(ctx context.Context, args ...string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cmd := exec.CommandContext(ctx, d.path, args...)
	d.log.Debug("pfdriver.exe", "args", args)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), errors.Wrapf(err, errors.KindUnavailable, "packet-filter command failed: %s %s: %s",
			d.path, strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// VerifyInstall checks that the packet-filter binary can be executed at all.
func (d *Driver) VerifyInstall(ctx context.Context) error {
	if _, err := d.exe(ctx, "-h"); err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "could not run %s; check it is installed and on PATH", d.path)
	}
	return nil
}

// VerifyPermission checks that the calling process can list rules, which
// requires elevated privilege.
func (d *Driver) VerifyPermission(ctx context.Context) error {
	if _, err := d.exe(ctx, "-n", "-L", "OUTPUT"); err != nil {
		return errors.Wrapf(err, errors.KindPermission, "insufficient permission to run %s; must run as root", d.path)
	}
	return nil
}

// LoadChains lists the chains the live ruleset defines and registers any not
// already known, growing the chain/target registry the way a CREATE command
// does at runtime.
func (d *Driver) LoadChains(ctx context.Context) error {
	out, err := d.exe(ctx, "-L")
	if err != nil {
		return err
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := chainHeaderRE.FindStringSubmatch(line); m != nil {
			if !d.reg.HasChain(m[1]) {
				d.reg.AddChain(m[1])
			}
		}
	}
	return nil
}

// List lists and parses the live ruleset.
func (d *Driver) List(ctx context.Context) ([]rule.Rule, error) {
	out, err := d.exe(ctx, "-n", "-L", "-v", "-x", "--line-numbers")
	if err != nil {
		return nil, err
	}
	return parseList(out)
}

func parseList(out string) ([]rule.Rule, error) {
	var rules []rule.Rule
	var chain string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			chain = ""
			continue
		}
		if m := chainHeaderRE.FindStringSubmatch(line); m != nil {
			chain = m[1]
			continue
		}
		if strings.Contains(line, "source") && strings.Contains(line, "destination") {
			got := strings.Fields(line)
			if !equalFields(got, iptablesHeaders) {
				return nil, errors.Errorf(errors.KindInternal, "unexpected packet-filter listing header: %q", line)
			}
			continue
		}
		if chain == "" {
			continue
		}
		cols := strings.Fields(line)
		if len(cols) == 0 || !isDigits(cols[0]) {
			continue
		}
		if len(cols) < 10 {
			continue
		}
		num, _ := strconv.Atoi(cols[0])
		pkts, _ := strconv.ParseInt(cols[1], 10, 64)
		bytesCount, _ := strconv.ParseInt(cols[2], 10, 64)
		extra := strings.Join(cols[10:], " ")
		rules = append(rules, rule.Rule{
			Num:         num,
			Pkts:        pkts,
			Bytes:       bytesCount,
			Chain:       chain,
			Target:      cols[3],
			Prot:        cols[4],
			Opt:         cols[5],
			Inp:         cols[6],
			Out:         cols[7],
			Source:      cols[8],
			Destination: cols[9],
			Extra:       extra,
		})
	}
	return rules, nil
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// RuleToArgv builds the argv (excluding the binary name and the -I/-D/etc
// modify flag) that applies r. CREATE rules only ever name a chain (and,
// for a rename given as "old:new", the new name); everything else emits
// protocol, target, the recognized extra tokens (dpt:/spt:/to:), and
// interface/address clauses only when they deviate from "match anything".
func RuleToArgv(r rule.Rule) ([]string, error) {
	argv := []string{r.Chain}
	if r.Chain == rule.ChainPostrouting {
		argv = append(argv, "-t", "nat")
	}

	if r.Target == rule.TargetCreate {
		if strings.Contains(r.Chain, ":") {
			parts := strings.SplitN(r.Chain, ":", 2)
			argv = append(argv, parts[1])
		}
		return argv, nil
	}

	if r.Prot != "" && r.Prot != rule.DefaultProto {
		argv = append(argv, "-p", r.Prot)
	}

	argv = append(argv, "-j", r.Target)

	if r.Extra != "" {
		for _, tok := range strings.Fields(r.Extra) {
			switch {
			case strings.HasPrefix(tok, "dpt:"):
				argv = append(argv, "--dport", strings.TrimPrefix(tok, "dpt:"))
			case strings.HasPrefix(tok, "spt:"):
				argv = append(argv, "--sport", strings.TrimPrefix(tok, "spt:"))
			case strings.HasPrefix(tok, "to:"):
				argv = append(argv, "--to-source", strings.TrimPrefix(tok, "to:"))
			}
		}
	}

	if !r.InAny() {
		argv = append(argv, "-i", r.Inp)
	}
	if !r.OutAny() {
		argv = append(argv, "-o", r.Out)
	}
	if !r.DestinationIsAny() {
		argv = append(argv, "-d", r.Destination)
	}
	if !r.SourceIsAny() {
		argv = append(argv, "-s", r.Source)
	}

	return argv, nil
}

// modifyFlags enumerates the single-letter modify codes the CLI accepts:
// Insert, Delete, destroy-chain (X), New-chain, rEname-chain.
var modifyFlags = map[byte]bool{'I': true, 'D': true, 'X': true, 'N': true, 'E': true}

// ExeRule applies modify to r. It is a no-op returning no error when r has
// no target (the placeholder rule synthesized for an empty custom chain by
// ReadSimpleRules).
func (d *Driver) ExeRule(ctx context.Context, modify byte, r rule.Rule) error {
	if !modifyFlags[modify] {
		return errors.Errorf(errors.KindValidation, "unrecognized modify flag %q", string(modify))
	}
	if r.Target == "" {
		return nil
	}
	argv, err := RuleToArgv(r)
	if err != nil {
		return err
	}
	full := append([]string{"-" + string(modify)}, argv...)
	_, err = d.exe(ctx, full...)
	return err
}
