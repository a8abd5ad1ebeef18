// podwatchd is the passive network observer daemon.
//
// Usage:
//
//	podwatchd [flags] [run]                 aggregate until SIGINT/SIGTERM
//	podwatchd [flags] once                  run a single cycle and print its report
//	podwatchd [flags] prune [-days N] [-dry-run]
//	                                        delete registry entries not seen for N days
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xtxerr/podwatch/internal/loader"
	"github.com/xtxerr/podwatch/internal/logging"
	"github.com/xtxerr/podwatch/internal/manager"
)

// Version is set at build time via ldflags
var Version = "dev"

var log = logging.Component("main")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("podwatchd", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (defaults apply when empty)")
	listen := fs.String("listen", "", "ops listen address (overrides config, \"off\" disables)")
	dbPath := fs.String("db", "", "database path (overrides config, \":memory:\" for in-memory)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	logJSON := fs.Bool("log-json", false, "log as JSON lines")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "podwatchd: %v\n", err)
		return 1
	}

	// CLI overrides
	switch *listen {
	case "":
	case "off":
		cfg.Server.Listen = ""
	default:
		cfg.Server.Listen = *listen
	}
	switch *dbPath {
	case "":
	case ":memory:":
		cfg.Store.Path = ""
	default:
		cfg.Store.Path = *dbPath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logJSON {
		cfg.Log.JSON = true
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "podwatchd: %v\n", err)
		return 1
	}
	logging.Init(level, cfg.Log.JSON)

	cmd, rest := "run", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	switch cmd {
	case "run":
		return runDaemon(cfg)
	case "once":
		return runOnce(cfg)
	case "prune":
		return runPrune(cfg, rest)
	default:
		fmt.Fprintf(os.Stderr, "podwatchd: unknown command %q (want run, once or prune)\n", cmd)
		return 2
	}
}

// =============================================================================
// Commands
// =============================================================================

func runDaemon(cfg *loader.Config) int {
	log.Info("podwatchd starting", "version", Version)

	mgr, err := manager.New(cfg)
	if err != nil {
		log.Error("create manager", "error", err)
		return 1
	}
	defer closeManager(mgr)

	// =========================================================================
	// Signal Handling and Graceful Shutdown
	// =========================================================================

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		// Let the in-flight cycle finish within the drain timeout.
		mgr.Stop()
	}()

	if err := mgr.Run(context.Background()); err != nil {
		log.Error("run", "error", err)
		return 1
	}
	return 0
}

func runOnce(cfg *loader.Config) int {
	cfg.Server.Listen = ""
	mgr, err := manager.New(cfg)
	if err != nil {
		log.Error("create manager", "error", err)
		return 1
	}
	defer closeManager(mgr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report := mgr.RunOnce(ctx)
	out := map[string]any{
		"run_id":           report.RunID,
		"cycle_id":         report.CycleID,
		"duration":         report.Duration.String(),
		"vantage_points":   report.Vantages,
		"failed_vantages":  report.FailedVantages,
		"raw_observations": report.RawObservations,
		"merged_pods":      report.MergedPods,
		"appeared":         report.Appeared,
		"dropped":          report.Dropped,
	}
	if report.PersistErr != nil {
		out["persist_error"] = report.PersistErr.Error()
	}
	if err := printJSON(out); err != nil {
		return 1
	}
	if report.Panic != nil || report.PersistErr != nil {
		return 1
	}
	return 0
}

func runPrune(cfg *loader.Config, args []string) int {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	days := fs.Int("days", 0, "age in days (default: retention.registry)")
	dryRun := fs.Bool("dry-run", false, "count matching entries without deleting")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *days < 0 {
		fmt.Fprintln(os.Stderr, "podwatchd: -days cannot be negative")
		return 2
	}

	cfg.Server.Listen = ""
	mgr, err := manager.New(cfg)
	if err != nil {
		log.Error("create manager", "error", err)
		return 1
	}
	defer closeManager(mgr)

	res, err := mgr.Prune(context.Background(), time.Duration(*days)*24*time.Hour, *dryRun)
	if err != nil {
		log.Error("prune", "error", err)
		return 1
	}
	if err := printJSON(res); err != nil {
		return 1
	}
	return 0
}

// =============================================================================
// Helpers
// =============================================================================

func closeManager(mgr *manager.Manager) {
	if err := mgr.Close(); err != nil {
		log.Warn("close manager", "error", err)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "podwatchd: %v\n", err)
		return err
	}
	return nil
}
