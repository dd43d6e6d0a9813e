// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package engine runs the command worker and expiry worker: the single
// consumer that actually mutates the packet filter, and the single consumer
// that turns "time's up" into a deletion command. See rfwthreads.py's
// CommandProcessor/ExpiryManager for the algorithm this generalizes.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/rfw/internal/audit"
	"grimm.is/rfw/internal/cmdparse"
	"grimm.is/rfw/internal/logging"
	"grimm.is/rfw/internal/metrics"
	"grimm.is/rfw/internal/pfdriver"
	"grimm.is/rfw/internal/rule"
)

// pollInterval is the expiry worker's polling period, determining the time
// resolution of the expire directive.
const pollInterval = time.Second

// Command is one unit of work: a modify code ('I' insert, 'D' delete, 'L'
// list-no-op), the rule it applies to, and any directives that accompanied
// it.
type Command struct {
	Modify     byte
	Rule       rule.Rule
	Directives cmdparse.Directives
	RequestID  string
}

// Engine owns the command queue, the expiry queue, and the in-memory
// ruleset used to decide idempotency.
type Engine struct {
	driver        *pfdriver.Driver
	reg           *rule.Registry
	defaultExpire int
	log           *logging.Logger
	metrics       *metrics.Collector
	audit         *audit.Logger

	cmdQueue    *commandQueue
	expiryQueue *expiryQueue

	mu      sync.Mutex
	ruleset map[rule.Key]rule.Rule
}

// New builds an Engine. defaultExpire is the fallback number of seconds a
// rule lives when a command's directives don't specify one; 0 means
// permanent.
func New(driver *pfdriver.Driver, reg *rule.Registry, defaultExpire int, log *logging.Logger, m *metrics.Collector, a *audit.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	if m == nil {
		m = metrics.NewCollector()
	}
	if a == nil {
		a = audit.NewLogger(log)
	}
	return &Engine{
		driver:        driver,
		reg:           reg,
		defaultExpire: defaultExpire,
		log:           log.WithComponent("engine"),
		metrics:       m,
		audit:         a,
		cmdQueue:      newCommandQueue(),
		expiryQueue:   newExpiryQueue(),
		ruleset:       make(map[rule.Key]rule.Rule),
	}
}

// Enqueue puts a command on the queue without blocking, stamping it with a
// fresh request id if one wasn't already assigned by the caller.
func (e *Engine) Enqueue(cmd Command) string {
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}
	e.cmdQueue.Put(cmd)
	e.metrics.CommandQueueDepth.Set(float64(e.cmdQueue.Len()))
	return cmd.RequestID
}

// Run seeds the in-memory ruleset from the live packet filter and then
// blocks, consuming commands until ctx is cancelled. It is meant to run in
// its own goroutine as the engine's single command-queue consumer.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.driver.LoadChains(ctx); err != nil {
		return err
	}
	live, err := e.driver.List(ctx)
	if err != nil {
		return err
	}
	seed := e.driver.ReadSimpleRules(live, "", false)
	e.mu.Lock()
	for _, r := range seed {
		e.ruleset[r.Key()] = r
	}
	e.metrics.ActiveRules.Set(float64(len(e.ruleset)))
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.cmdQueue.Close()
	}()

	for {
		cmd, ok := e.cmdQueue.Get()
		if !ok {
			return ctx.Err()
		}
		e.metrics.CommandQueueDepth.Set(float64(e.cmdQueue.Len()))
		e.process(ctx, cmd)
	}
}

// process mirrors CommandProcessor.run's per-command body: any failure here
// is logged and the command dropped, but the worker never stops — a bad
// command must not take down the engine.
func (e *Engine) process(ctx context.Context, cmd Command) {
	switch cmd.Modify {
	case 'I':
		e.processInsert(ctx, cmd)
	case 'D':
		e.processDelete(ctx, cmd)
	case 'L':
		// no-op: listing doesn't mutate anything.
	default:
		e.log.Warn("unrecognized modify code, command ignored", "request_id", cmd.RequestID, "modify", string(cmd.Modify))
	}
}

func (e *Engine) ruleExists(cmd Command) bool {
	if cmd.Rule.Target != rule.TargetCreate {
		e.mu.Lock()
		defer e.mu.Unlock()
		_, ok := e.ruleset[cmd.Rule.Key()]
		return ok
	}
	if strings.Contains(cmd.Rule.Chain, ":") {
		newChain := strings.SplitN(cmd.Rule.Chain, ":", 2)[1]
		return e.reg.HasChain(newChain)
	}
	return e.reg.HasChain(cmd.Rule.Chain)
}

func (e *Engine) processInsert(ctx context.Context, cmd Command) {
	if e.ruleExists(cmd) {
		e.log.Warn("trying to insert existing rule, command ignored", "request_id", cmd.RequestID, "rule", cmd.Rule.String())
		e.audit.Settled(cmd.RequestID, cmd.Modify, cmd.Rule, audit.OutcomeDeduped, nil)
		e.metrics.CommandsTotal.WithLabelValues("I").Inc()
		return
	}

	modify := byte('I')
	renaming := strings.Contains(cmd.Rule.Chain, ":")
	if cmd.Rule.Target == rule.TargetCreate {
		modify = 'N'
	}
	if renaming {
		modify = 'E'
	}

	if err := e.driver.ExeRule(ctx, modify, cmd.Rule); err != nil {
		e.log.Error("failed to apply rule", "request_id", cmd.RequestID, "error", err)
		e.audit.Settled(cmd.RequestID, cmd.Modify, cmd.Rule, audit.OutcomeDriverFailure, err)
		e.metrics.DriverFailures.Inc()
		return
	}

	e.scheduleExpiry(cmd.Rule, cmd.Directives)

	if cmd.Rule.Target != rule.TargetCreate {
		e.mu.Lock()
		e.ruleset[cmd.Rule.Key()] = cmd.Rule
		e.metrics.ActiveRules.Set(float64(len(e.ruleset)))
		e.mu.Unlock()
	} else if renaming {
		parts := strings.SplitN(cmd.Rule.Chain, ":", 2)
		e.reg.RenameChain(parts[0], parts[1], cmd.Rule.Chain)
	} else {
		e.reg.AddChain(cmd.Rule.Chain)
	}

	e.audit.Settled(cmd.RequestID, cmd.Modify, cmd.Rule, audit.OutcomeApplied, nil)
	e.metrics.CommandsTotal.WithLabelValues("I").Inc()
}

func (e *Engine) processDelete(ctx context.Context, cmd Command) {
	if !e.ruleExists(cmd) {
		e.log.Warn("trying to delete non-existing rule, command ignored", "request_id", cmd.RequestID, "rule", cmd.Rule.String())
		e.audit.Settled(cmd.RequestID, cmd.Modify, cmd.Rule, audit.OutcomeDeduped, nil)
		e.metrics.CommandsTotal.WithLabelValues("D").Inc()
		return
	}

	modify := byte('D')
	if cmd.Rule.Target == rule.TargetCreate {
		modify = 'X'
	}

	if err := e.driver.ExeRule(ctx, modify, cmd.Rule); err != nil {
		e.log.Error("failed to remove rule", "request_id", cmd.RequestID, "error", err)
		e.audit.Settled(cmd.RequestID, cmd.Modify, cmd.Rule, audit.OutcomeDriverFailure, err)
		e.metrics.DriverFailures.Inc()
		return
	}

	if cmd.Rule.Target != rule.TargetCreate {
		e.mu.Lock()
		delete(e.ruleset, cmd.Rule.Key())
		e.metrics.ActiveRules.Set(float64(len(e.ruleset)))
		e.mu.Unlock()
	} else {
		e.reg.RemoveTarget(cmd.Rule.Chain)
		e.reg.RemoveChain(cmd.Rule.Chain)
	}

	e.audit.Settled(cmd.RequestID, cmd.Modify, cmd.Rule, audit.OutcomeApplied, nil)
	e.metrics.CommandsTotal.WithLabelValues("D").Inc()
}

// scheduleExpiry puts a time-bounded rule onto the expiry queue. expire=0
// (the default when neither the directives nor the configured default
// specify one) means a permanent rule, which is never scheduled.
func (e *Engine) scheduleExpiry(r rule.Rule, d cmdparse.Directives) {
	expire := e.defaultExpire
	if d.Expire != nil {
		expire = *d.Expire
	}
	if expire <= 0 {
		return
	}
	e.expiryQueue.Schedule(expiryItem{
		tstamp: time.Now().Add(time.Duration(expire) * time.Second),
		expire: expire,
		rule:   r,
	})
	e.metrics.ExpiryQueueDepth.Set(float64(e.expiryQueue.Len()))
}

// RunExpiry polls the expiry queue and turns due rules into delete commands.
// It is meant to run in its own goroutine, the single consumer of the
// expiry queue.
func (e *Engine) RunExpiry(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			item, ok := e.expiryQueue.Peek()
			if !ok || item.tstamp.After(time.Now()) {
				continue
			}
			item, ok = e.expiryQueue.Pop()
			if !ok {
				continue
			}
			e.metrics.ExpiryQueueDepth.Set(float64(e.expiryQueue.Len()))
			e.Enqueue(Command{Modify: 'D', Rule: item.rule})
		}
	}
}
