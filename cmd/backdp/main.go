// Package main is the entry point for backdp.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rogersf/backdp/internal/config"
	"github.com/rogersf/backdp/internal/guard"
	"github.com/rogersf/backdp/internal/ipc"
	"github.com/rogersf/backdp/internal/metrics"
	"github.com/rogersf/backdp/internal/report"
	"github.com/rogersf/backdp/internal/store"
	"github.com/rogersf/backdp/internal/workflow"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to configuration JSON file")
	serve := flag.Bool("serve", false, "serve the HTTP API after the initial run")
	colorMode := flag.String("color", "auto", "colorize output: auto, always or never")
	policyStep := flag.Int("policy-step", -1, "print the policy grid for this step")
	flag.Parse()

	if *showVersion {
		fmt.Printf("backdp %s (commit=%s, built=%s)\n", version, commit, date)
		os.Exit(0)
	}

	// Resolve config path: --config flag > BACKDP_CONFIG env > auto-discover.
	path := *configPath
	if path == "" {
		path = os.Getenv("BACKDP_CONFIG")
	}
	if path == "" {
		path = discoverConfig()
	}
	if path == "" {
		fatal("no config found. Place config.json next to the exe, use --config <path>, or set BACKDP_CONFIG.")
	}

	cfg, err := config.Load(path)
	if err != nil {
		fatal(fmt.Sprintf("load config: %v", err))
	}

	color, err := useColor(*colorMode)
	if err != nil {
		fatal(err.Error())
	}

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	runner := workflow.NewRunner(db, metrics.New(reg))
	runner.Workers = cfg.Workers
	runner.Tolerance = cfg.Tolerance
	runner.Traces = cfg.Traces
	runner.Seed = cfg.Seed

	start := time.Now()
	out, err := runner.Execute(context.Background(), cfg.Clearance)
	if err != nil {
		fatal(fmt.Sprintf("run: %v", err))
	}
	log.Printf("run %s %s in %s (%d steps, %d workers)",
		out.Run.RunID, out.Run.Status, time.Since(start).Round(time.Millisecond), out.Result.Len(), cfg.Workers)
	if g := out.Result.Gamma(); g > 1 {
		log.Printf("warning: discount factor %v exceeds 1, values grow with the horizon", g)
	}

	if err := report.WriteSummary(os.Stdout, out.Performance, color); err != nil {
		log.Fatalf("write summary: %v", err)
	}
	if *policyStep >= 0 {
		fmt.Println()
		if err := report.WritePolicy(os.Stdout, out.Model, out.Result, *policyStep, color); err != nil {
			log.Fatalf("write policy: %v", err)
		}
	}

	if cfg.ChartPath != "" {
		if err := writeChart(cfg.ChartPath, out); err != nil {
			log.Fatalf("write chart: %v", err)
		}
		log.Printf("chart written to %s", cfg.ChartPath)
	}

	if !*serve {
		return
	}

	handler := ipc.NewHandler(runner, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	handler.Guard = guard.NewGuard(guard.Config{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxConcurrentRuns:  cfg.MaxConcurrentRuns,
		MaxStates:          cfg.MaxStates,
	})
	srv := ipc.NewServer(handler, cfg.ListenAddr)

	// Graceful shutdown on interrupt.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("backdp listening on %s", ipc.FormatListenURL(cfg.ListenAddr))

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		fatal(fmt.Sprintf("server error: %v", err))
	}
}

func writeChart(path string, out *workflow.Outcome) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteChart(f, out.Performance); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// useColor resolves the -color flag against whether stdout is a terminal.
func useColor(mode string) (bool, error) {
	switch mode {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto":
		fd := os.Stdout.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd), nil
	}
	return false, fmt.Errorf("invalid -color %q: want auto, always or never", mode)
}

// discoverConfig looks for config.json next to the executable, then in the cwd.
func discoverConfig() string {
	// Next to executable.
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "config.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	// Current working directory.
	if _, err := os.Stat("config.json"); err == nil {
		return "config.json"
	}
	return ""
}

func fatal(msg string) {
	fmt.Fprintf(os.Stderr, "ERROR: %s\n", msg)
	os.Exit(1)
}
