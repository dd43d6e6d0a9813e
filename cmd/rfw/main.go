// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command rfw is the control-plane agent: it loads its config, locks down
// its own control port, then runs the command/expiry workers and the
// local/outward HTTP listeners until signalled to stop. See rfw.py's main()
// for the startup sequence this follows.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"grimm.is/rfw/internal/api"
	"grimm.is/rfw/internal/audit"
	"grimm.is/rfw/internal/bootstrap"
	"grimm.is/rfw/internal/config"
	"grimm.is/rfw/internal/engine"
	"grimm.is/rfw/internal/logging"
	"grimm.is/rfw/internal/metrics"
	"grimm.is/rfw/internal/pfdriver"
	"grimm.is/rfw/internal/rule"
	"grimm.is/rfw/internal/timeutil"
)

func main() {
	configFile := flag.String("f", "/etc/rfw/rfw.hcl", "config file")
	verbose := flag.Bool("v", false, "debug-level console logging")
	flag.Parse()

	if err := run(*configFile, *verbose); err != nil {
		fmt.Fprintln(os.Stderr, "rfw:", err)
		os.Exit(1)
	}
}

func run(configFile string, verbose bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logCfg := logging.DefaultConfig()
	if verbose {
		logCfg.Level = logging.LevelDebug
	} else if level, ok := parseLevel(cfg.Logging.Level); ok {
		logCfg.Level = level
	}
	logCfg.JSON = cfg.Logging.JSON
	logCfg.FilePath = cfg.Logging.FilePath
	logCfg.FileLevel = logCfg.Level
	log := logging.New(logCfg)
	logging.SetDefault(log)

	reg := rule.NewRegistry()
	driver := pfdriver.New(cfg.IptablesPath, reg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := driver.VerifyInstall(ctx); err != nil {
		return fmt.Errorf("iptables sanity check: %w", err)
	}
	if err := driver.VerifyPermission(ctx); err != nil {
		return fmt.Errorf("iptables permission check: %w", err)
	}
	if err := driver.LoadChains(ctx); err != nil {
		return fmt.Errorf("loading chains: %w", err)
	}

	log.Info("locking down control port", "whitelist", cfg.Whitelist)
	if err := lockdownControlPort(ctx, driver, log, cfg); err != nil {
		return fmt.Errorf("bootstrap lockdown: %w", err)
	}

	defaultExpire := 0
	if cfg.DefaultExpire != "" {
		parsed, ok := timeutil.ParseInterval(cfg.DefaultExpire)
		if !ok {
			return fmt.Errorf("invalid default_expire %q", cfg.DefaultExpire)
		}
		defaultExpire = parsed
	}

	collector := metrics.NewCollector()
	auditLog := audit.NewLogger(log)
	eng := engine.New(driver, reg, defaultExpire, log, collector, auditLog)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			log.Error("command worker stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := eng.RunExpiry(ctx); err != nil && err != context.Canceled {
			log.Error("expiry worker stopped", "error", err)
		}
	}()

	deps := api.Deps{
		Engine:     eng,
		Driver:     driver,
		Registry:   reg,
		Log:        log,
		Metrics:    collector,
		Audit:      auditLog,
		Whitelist:  cfg.Whitelist,
		NonRestful: cfg.NonRestful,
	}

	if cfg.Local.Enabled {
		srv := api.NewLocalServer(api.LocalOptions{Deps: deps, Addr: cfg.Local.Listen})
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("local listener starting", "addr", cfg.Local.Listen)
			if err := api.Serve(ctx, srv, "", ""); err != nil && err != context.Canceled {
				log.Error("local listener stopped", "error", err)
			}
		}()
	}
	if cfg.Outward.Enabled {
		srv := api.NewOutwardServer(api.OutwardOptions{
			Deps:     deps,
			Addr:     cfg.Outward.Listen,
			CertFile: cfg.Outward.CertFile,
			KeyFile:  cfg.Outward.KeyFile,
			Username: cfg.Outward.Username,
			Password: cfg.Outward.Password,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("outward listener starting", "addr", cfg.Outward.Listen)
			if err := api.Serve(ctx, srv, cfg.Outward.CertFile, cfg.Outward.KeyFile); err != nil && err != context.Canceled {
				log.Error("outward listener stopped", "error", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	received := <-sig
	log.Info("caught signal, shutting down", "signal", received.String())
	cancel()
	wg.Wait()
	return log.Sync()
}

// lockdownControlPort figures out which port actually needs protecting: the
// outward port if that listener is enabled (it's the one reachable from
// outside), otherwise the loopback port.
func lockdownControlPort(ctx context.Context, driver *pfdriver.Driver, log *logging.Logger, cfg config.Config) error {
	addr := cfg.Local.Listen
	if cfg.Outward.Enabled {
		addr = cfg.Outward.Listen
	}
	port, err := portOf(addr)
	if err != nil {
		return err
	}
	return bootstrap.Lockdown(ctx, driver, log, bootstrap.Options{Port: port, Whitelist: cfg.Whitelist})
}

func portOf(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parsing listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("parsing port in %q: %w", addr, err)
	}
	return port, nil
}

func parseLevel(s string) (logging.Level, bool) {
	switch s {
	case "debug":
		return logging.LevelDebug, true
	case "info":
		return logging.LevelInfo, true
	case "warn", "warning":
		return logging.LevelWarn, true
	case "error":
		return logging.LevelError, true
	default:
		return 0, false
	}
}
