// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package bootstrap locks the agent's own control port down before it starts
// accepting commands: every whitelisted host gets an ACCEPT, everyone else
// gets a DROP, and insertion order guarantees the ACCEPTs end up ahead of the
// DROP. See rfw.py's rfw_init_rules for the sequence this ports.
package bootstrap

import (
	"context"
	"fmt"
	"strconv"

	"grimm.is/rfw/internal/logging"
	"grimm.is/rfw/internal/pfdriver"
	"grimm.is/rfw/internal/rule"
)

// Options describes the port to lock down and the hosts allowed through it.
type Options struct {
	Port      int
	Whitelist []string
}

// Lockdown clears any stale catch-all rules for Port left over from a prior
// run, inserts a fresh catch-all DROP on both INPUT and OUTPUT, then inserts
// an ACCEPT pair for every whitelisted host. Because each insertion goes to
// the head of its chain (-I with no line number), the ACCEPTs — inserted
// after the DROP — end up evaluated first.
func Lockdown(ctx context.Context, driver *pfdriver.Driver, log *logging.Logger, opts Options) error {
	if log == nil {
		log = logging.Default()
	}
	log = log.WithComponent("bootstrap")
	port := strconv.Itoa(opts.Port)

	live, err := driver.List(ctx)
	if err != nil {
		return fmt.Errorf("listing existing rules: %w", err)
	}

	log.Info("removing stale init rules for control port", "port", port)
	for _, r := range pfdriver.Find(live, map[string][]string{
		"chain": {rule.ChainInput}, "target": {rule.TargetDrop}, "prot": {"tcp"}, "extra": {"tcp dpt:" + port},
	}) {
		if err := driver.ExeRule(ctx, 'D', r); err != nil {
			log.Warn("failed to remove stale INPUT drop rule", "error", err)
		}
	}
	for _, r := range pfdriver.Find(live, map[string][]string{
		"chain": {rule.ChainOutput}, "target": {rule.TargetDrop}, "prot": {"tcp"}, "extra": {"tcp spt:" + port},
	}) {
		if err := driver.ExeRule(ctx, 'D', r); err != nil {
			log.Warn("failed to remove stale OUTPUT drop rule", "error", err)
		}
	}

	log.Info("inserting catch-all drop rules for control port", "port", port)
	dropInput := rule.New(rule.Rule{Target: rule.TargetDrop, Chain: rule.ChainInput, Prot: "tcp", Extra: "tcp dpt:" + port})
	if err := driver.ExeRule(ctx, 'I', dropInput); err != nil {
		return fmt.Errorf("inserting INPUT drop rule: %w", err)
	}
	dropOutput := rule.New(rule.Rule{Target: rule.TargetDrop, Chain: rule.ChainOutput, Prot: "tcp", Extra: "tcp spt:" + port})
	if err := driver.ExeRule(ctx, 'I', dropOutput); err != nil {
		return fmt.Errorf("inserting OUTPUT drop rule: %w", err)
	}

	log.Info("inserting whitelist accept rules for control port", "count", len(opts.Whitelist))
	for _, ip := range opts.Whitelist {
		acceptInput := rule.New(rule.Rule{Target: rule.TargetAccept, Chain: rule.ChainInput, Prot: "tcp", Source: ip, Extra: "tcp dpt:" + port})
		// Delete first so a rerun doesn't pile up duplicate ACCEPTs; absence of
		// a matching rule is not an error.
		_ = driver.ExeRule(ctx, 'D', acceptInput)
		if err := driver.ExeRule(ctx, 'I', acceptInput); err != nil {
			return fmt.Errorf("inserting INPUT accept rule for %s: %w", ip, err)
		}

		acceptOutput := rule.New(rule.Rule{Target: rule.TargetAccept, Chain: rule.ChainOutput, Prot: "tcp", Destination: ip, Extra: "tcp spt:" + port})
		_ = driver.ExeRule(ctx, 'D', acceptOutput)
		if err := driver.ExeRule(ctx, 'I', acceptOutput); err != nil {
			return fmt.Errorf("inserting OUTPUT accept rule for %s: %w", ip, err)
		}
	}

	return nil
}
