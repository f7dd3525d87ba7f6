// Command wardend is the warden daemon: it loads the YAML app list (if one
// is given), brings up the Supervisor, the ControlPlane socket, and the
// daemon bootstrap/shutdown skeleton. Grounded on teacher cmd/provisr/
// main.go's flag-then-execute shape, re-pointed from an embedded
// provisr.Manager to this spec's Supervisor+Daemon pair.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/watchkeeper/warden/internal/config"
	"github.com/watchkeeper/warden/internal/controlplane"
	"github.com/watchkeeper/warden/internal/crashjournal"
	"github.com/watchkeeper/warden/internal/daemon"
	"github.com/watchkeeper/warden/internal/env"
	"github.com/watchkeeper/warden/internal/history"
	"github.com/watchkeeper/warden/internal/initsystem"
	"github.com/watchkeeper/warden/internal/logging"
	"github.com/watchkeeper/warden/internal/metrics"
	"github.com/watchkeeper/warden/internal/registry"
	"github.com/watchkeeper/warden/internal/supervisor"
)

const product = "warden"

func main() {
	var configPath string
	var metricsAddr string
	var historyDSN string

	root := &cobra.Command{
		Use:   "wardend",
		Short: "warden daemon: supervises configured processes and serves the control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, metricsAddr, historyDSN)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to the YAML app list")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "optional address to expose Prometheus metrics and /status on")
	root.Flags().StringVar(&historyDSN, "history-dsn", "", "optional history sink DSN (sqlite://, postgres://, clickhouse://, opensearch://)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "."+product)
	}
	return filepath.Join(home, "."+product)
}

func run(configPath, metricsAddr, historyDSN string) error {
	dir := dataDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	log, closer := logging.NewDaemonLogger(dir, slog.LevelInfo)
	defer closer.Close()

	var hist *history.FanOut
	if historyDSN != "" {
		sink, err := history.NewSinkFromDSN(historyDSN)
		if err != nil {
			log.Warn("history sink unavailable, continuing without it", "dsn", historyDSN, "error", err)
		} else {
			hist = history.NewFanOut([]history.Sink{sink}, func(i int, err error) {
				log.Warn("history sink send failed", "sink", i, "error", err)
			})
		}
	}

	journal := crashjournal.New(dir)
	sup := supervisor.New(supervisor.Options{
		DataDir: dir,
		Runtime: "node",
		Env:     env.New(),
		Journal: journal,
		History: hist,
		Log:     log,
	})

	execPath, err := os.Executable()
	if err != nil {
		execPath = "wardend"
	}
	var initArgs []string
	if configPath != "" {
		initArgs = []string{"--config", configPath}
	}
	// initIface stays a true nil interface when initsystem.New fails; assigning
	// a nil *initsystem.Writer directly would give controlplane a non-nil
	// interface wrapping a nil pointer.
	var initIface controlplane.InitSystem
	if initWriter, err := initsystem.New(product, execPath, initArgs); err != nil {
		log.Warn("init-system integration unavailable", "error", err)
	} else {
		initIface = initWriter
	}

	cp := controlplane.New(sup, initIface, controlplane.DefaultSocketPath(product), log)

	d := &daemon.Daemon{DataDir: dir, Sup: sup, CP: cp, Log: log}

	ctx := context.Background()
	if metricsAddr != "" {
		srv := metrics.NewServer(metricsAddr, func() any { return sup.Registry().List() })
		shutdown := metrics.Serve(srv)
		defer func() { _ = shutdown(ctx) }()
	}

	if configPath != "" {
		specs, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		go startConfiguredApps(sup, specs, log)
	}

	return d.Run(ctx)
}

// startConfiguredApps starts every app in the config once the Supervisor's
// run loop is live. It runs on its own goroutine since Daemon.Run blocks
// the caller for the lifetime of the process; Start itself is safe to call
// concurrently with RestoreSnapshot since both go through the Supervisor's
// serialized queue.
func startConfiguredApps(sup *supervisor.Supervisor, specs []registry.Spec, log *slog.Logger) {
	for _, spec := range specs {
		if _, err := sup.Start(spec); err != nil {
			log.Error("failed to start configured app", "app", spec.Name, "error", err)
		}
	}
}
