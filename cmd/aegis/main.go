// SPDX-License-Identifier: Apache-2.0
// aegis runs the failure-handling engine as a long-lived process:
// classification, recovery orchestration and alert sweeping, with
// config hot reload.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aegislabs/aegis/pkg/alerting"
	"github.com/aegislabs/aegis/pkg/classify"
	"github.com/aegislabs/aegis/pkg/config"
	"github.com/aegislabs/aegis/pkg/resilience"
	"github.com/aegislabs/aegis/pkg/telemetry"
	_ "modernc.org/sqlite"
)

const version = "dev"

func main() {
	args := os.Args[1:]
	if len(args) == 1 && (args[0] == "-h" || args[0] == "--help") {
		printUsage()
		return
	}
	if len(args) == 1 && args[0] == "version" {
		fmt.Println(version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithCLI(args)
	if err != nil {
		fatal(err)
	}

	telemetry.ConfigureSlog(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig("aegis", version, telemetry.Config{
		Exporter:           cfg.Telemetry.Exporter,
		OTLPEndpoint:       cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:       cfg.Telemetry.OTLPInsecure,
		OTLPTimeoutSeconds: cfg.Telemetry.OTLPTimeoutSeconds,
	})
	if err != nil {
		fatal(err)
	}
	defer shutdown(context.Background())

	metrics, err := telemetry.NewEngineMetrics(ctx)
	if err != nil {
		fatal(err)
	}

	var manager *alerting.Manager

	classifierOpts := []classify.Option{
		classify.WithHistoryCapacity(cfg.Classifier.HistoryCapacity),
		classify.WithPatternSignalHandler(func(sig classify.PatternSignal) {
			if manager != nil {
				manager.ConsumePatternSignal(context.Background(), sig)
			}
		}),
	}
	classifier := classify.NewClassifier(classifierOpts...)

	if cfg.Classifier.PatternFile != "" {
		data, err := os.ReadFile(cfg.Classifier.PatternFile)
		if err != nil {
			fatal(fmt.Errorf("read pattern file: %w", err))
		}
		if err := classifier.RegisterPatternPack(data); err != nil {
			fatal(fmt.Errorf("load pattern file: %w", err))
		}
	}

	orchestrator := resilience.NewOrchestrator(
		resilience.WithConfigTable(cfg.RetryTable()),
		resilience.WithMetrics(metrics),
		resilience.WithFailureHandler(func(ctx context.Context, err error) {
			if manager != nil {
				manager.HandleError(ctx, err, nil, "orchestrator")
			}
		}),
	)

	managerOpts := []alerting.ManagerOption{
		alerting.WithMetrics(metrics),
		alerting.WithSuppressionWindow(cfg.Alerting.SuppressionWindow),
		alerting.WithBreakAction(func(ctx context.Context, component string) {
			slog.Warn("aegis.breaker.pattern_action", slog.String("component", component))
		}),
	}
	if cfg.Alerting.AuditDBPath != "" {
		db, err := sql.Open("sqlite", cfg.Alerting.AuditDBPath)
		if err != nil {
			fatal(fmt.Errorf("open audit db: %w", err))
		}
		defer db.Close()
		store, err := alerting.NewSQLiteAuditStore(db)
		if err != nil {
			fatal(fmt.Errorf("init audit store: %w", err))
		}
		managerOpts = append(managerOpts, alerting.WithAuditStore(store))
	}
	manager = alerting.NewManager(managerOpts...)
	manager.SetSweepInterval(cfg.Alerting.SweepInterval)
	manager.SetSweepTimeout(cfg.Alerting.SweepTimeout)
	manager.StartSweeper()
	defer manager.StopSweeper()

	// Retry policy changes apply without a restart.
	configPath := configPathFromArgs(args)
	if configPath != "" {
		watcher, _, err := config.WatchConfig(ctx, configPath)
		if err != nil {
			fatal(err)
		}
		defer watcher.Stop()
		watcher.OnChange(func(updated *config.Config) {
			orchestrator.UpdateConfigTable(updated.RetryTable())
			slog.Info("aegis.config.applied")
		})
	}

	slog.Info("aegis.started", slog.String("version", version))
	<-ctx.Done()
	slog.Info("aegis.stopping")
}

func configPathFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if len(arg) > len("--config=") && arg[:len("--config=")] == "--config=" {
			return arg[len("--config="):]
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`aegis - failure classification and recovery engine

Usage:
  aegis [flags]

Flags:
  --config <path>      Path to config.yaml
  --profile <name>     Config profile overlay (dev, prod, ...)
  --set key=value      Override config (repeatable)

Commands:
  version
`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
