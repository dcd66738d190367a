// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command flywall is the packet-filter daemon (spec §6.6): it loads the
// in-kernel classifier onto the configured interfaces, builds the rule
// table from a YAML directory and an optional SQLite store, serves the
// control socket, and drains the kernel log ring to local logging, an
// optional search index, and the log fan-out socket.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/flywall/internal/config"
	"grimm.is/flywall/internal/ctlplane"
	"grimm.is/flywall/internal/logging"
	"grimm.is/flywall/internal/logpipeline"
	"grimm.is/flywall/internal/mapsyncer"
	"grimm.is/flywall/internal/metrics"
	"grimm.is/flywall/internal/rule"
	"grimm.is/flywall/internal/ruleloader"
	"grimm.is/flywall/internal/rulestore"
	"grimm.is/flywall/internal/searchindex"
)

func main() {
	cfgPath := flag.String("cfg", "", "path to the YAML daemon configuration")
	rulesDir := flag.String("rules", "", "directory of YAML rule files")
	migrationsDir := flag.String("migrations", "", "directory of SQL migrations to apply before opening the database")
	forceInput := flag.Bool("force-input", false, "tear down a pre-existing XDP attachment before attaching ingress")
	forceOutput := flag.Bool("force-output", false, "install a clsact qdisc before attaching egress")
	flag.Parse()

	if *cfgPath == "" {
		logging.Default().Error("missing required flag", "flag", "--cfg")
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logging.Default().Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: parseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	logging.SetDefault(log)

	if err := run(cfg, *rulesDir, *migrationsDir, *forceInput, *forceOutput, log); err != nil {
		log.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, rulesDir, migrationsDir string, forceInput, forceOutput bool, log *logging.Logger) error {
	maps, cleanup, err := attach(cfg, forceInput, forceOutput, log)
	if err != nil {
		return err
	}
	defer cleanup()

	var db *ruleloader.DB
	if cfg.Database != "" {
		if migrationsDir != "" {
			if err := ruleloader.ApplyMigrations(cfg.Database, migrationsDir); err != nil {
				return err
			}
		}
		db, err = ruleloader.OpenDB(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	var persister rulestore.Persister
	if db != nil {
		persister = db
	}
	store := rulestore.New(persister)
	if err := loadInitialRules(store, db, rulesDir, log); err != nil {
		return err
	}

	var mtr *metrics.Metrics
	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		mtr = metrics.New(registry)
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(registry)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server stopped", "err", err)
			}
		}()
		defer srv.Close()
	}

	syncer := mapsyncer.New(store, maps.Rules(), log)
	n, err := syncer.Sync()
	if err != nil {
		return err
	}
	if mtr != nil {
		mtr.RuleTableSize.Set(float64(n))
	}

	var opts []ctlplane.Option
	if db != nil {
		opts = append(opts, ctlplane.WithPersistentStore(db))
	}
	ctl := ctlplane.New(cfg.ControlSocket, rulesDir, store, syncer, log, opts...)
	if err := ctl.Start(); err != nil {
		return err
	}
	defer ctl.Close()

	var index logpipeline.IndexPoster
	if cfg.SearchIndexURL != "" {
		index = searchindex.New(cfg.SearchIndexURL)
	}

	fanout := logpipeline.NewBroadcaster(cfg.LogSocket, log)
	if err := fanout.Start(); err != nil {
		return err
	}
	defer fanout.Close()

	collector := logpipeline.New(maps.Log(), store, index, fanout, log)
	if mtr != nil {
		collector.WithMetrics(mtr)
	}
	go collector.Run()

	log.Info("flywall started", "interfaces", cfg.Interfaces, "control_socket", cfg.ControlSocket, "log_socket", cfg.LogSocket)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	return nil
}

// loadInitialRules builds the startup rule set the same way a Reload
// request does (spec §4.8): YAML-sourced rules first, then any
// persistently-stored rules layered on top by rule_id.
func loadInitialRules(store *rulestore.Store, db *ruleloader.DB, rulesDir string, log *logging.Logger) error {
	var all []rule.Rule

	if rulesDir != "" {
		yamlRules, err := ruleloader.LoadYAMLDir(rulesDir)
		if err != nil {
			return err
		}
		all = append(all, yamlRules...)
		log.Info("loaded YAML rules", "dir", rulesDir, "count", len(yamlRules))
	}

	if db != nil {
		dbRules, err := db.LoadAll()
		if err != nil {
			return err
		}
		all = append(all, dbRules...)
		log.Info("loaded persisted rules", "count", len(dbRules))
	}

	return store.ReplaceAll(all)
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
