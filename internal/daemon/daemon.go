// Package daemon implements the bootstrap/shutdown skeleton from spec.md
// §4.11: pid-file-guarded single-instance startup, restoring a Snapshot's
// running entries, and a signal-triggered shutdown with a watchdog that
// force-exits if graceful teardown stalls.
//
// Grounded on teacher cmd/provisr/main.go + cmd/provisr/daemon_unix.go (pid
// file, SysProcAttr.Setsid) and oarkflow-supervisor's checkOrCreatePIDFile/
// removePIDFile pair, generalized to this spec's abort-if-pid-alive and
// restore-on-boot semantics.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/watchkeeper/warden/internal/controlplane"
	"github.com/watchkeeper/warden/internal/registry"
	"github.com/watchkeeper/warden/internal/snapshot"
	"github.com/watchkeeper/warden/internal/wardenerr"
)

const shutdownWatchdog = 10 * time.Second

// Supervisor is the subset of internal/supervisor.Supervisor the daemon
// skeleton drives directly (beyond what it hands to the ControlPlane).
type Supervisor interface {
	controlplane.Supervisor
	Run(ctx context.Context)
	Registry() *registry.Registry
	Snapshotter() *snapshot.Snapshotter
	StartExisting(e *registry.Entry) error
}

// Daemon owns the pid file, the ControlPlane listener, and the Supervisor's
// run loop.
type Daemon struct {
	DataDir string
	Sup     Supervisor
	CP      *controlplane.Server
	Log     *slog.Logger
}

func pidPath(dataDir string) string { return filepath.Join(dataDir, "daemon.pid") }

// AcquirePIDFile enforces single-instance startup: if the recorded pid is
// still alive, it returns a Conflict error and startup must abort;
// otherwise the current pid is written.
func AcquirePIDFile(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return wardenerr.IOErr("daemon.boot", fmt.Errorf("create data dir: %w", err))
	}
	path := pidPath(dataDir)
	if data, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && pid > 0 && processAlive(pid) {
			return wardenerr.Conflict("daemon.boot", fmt.Errorf("daemon already running with pid %d", pid))
		}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return wardenerr.IOErr("daemon.boot", fmt.Errorf("write pid file: %w", err))
	}
	return nil
}

// ReleasePIDFile removes the pid file at shutdown.
func ReleasePIDFile(dataDir string) {
	_ = os.Remove(pidPath(dataDir))
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// RestoreSnapshot loads the last Snapshot and respawns every entry that was
// `running`, `starting` or `restarting` when the daemon last exited. A respawn failure is logged and
// the entry dropped, per spec.md §4.11; it never aborts the boot sequence.
func (d *Daemon) RestoreSnapshot() {
	snap := snapshot.Load(filepath.Join(d.DataDir, "state.json"), d.Log)
	for _, e := range snap.Entries {
		if e.State != registry.StateRunning && e.State != registry.StateStarting && e.State != registry.StateRestarting {
			continue
		}
		if err := d.Sup.StartExisting(e); err != nil {
			d.Log.Error("failed to respawn entry on boot, dropping", "entry", e.Name, "error", err)
			continue
		}
		d.Log.Info("respawned entry from snapshot", "entry", e.Name, "id", e.ID, "restart_count", e.RestartCount)
	}
}

// Run executes the full bootstrap/serve/shutdown sequence: acquire the pid
// file, restore the snapshot, start the ControlPlane, run the Supervisor
// until a termination signal arrives, then tear everything down with a
// shutdown watchdog.
func (d *Daemon) Run(ctx context.Context) error {
	if err := AcquirePIDFile(d.DataDir); err != nil {
		return err
	}
	defer ReleasePIDFile(d.DataDir)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// The Supervisor's queue-draining loop must be running before anything
	// calls Start/StartExisting, both of which block on it via do().
	supCtx, cancelSup := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		d.Sup.Run(supCtx)
		close(done)
	}()

	d.RestoreSnapshot()

	if err := d.CP.Listen(); err != nil {
		cancelSup()
		<-done
		return err
	}
	go d.CP.Serve()

	<-sigCtx.Done()
	d.Log.Info("shutdown signal received, stopping")
	d.CP.Close()
	d.Sup.Snapshotter().Flush()
	cancelSup()

	select {
	case <-done:
		d.Log.Info("shutdown complete")
	case <-time.After(shutdownWatchdog):
		d.Log.Error("shutdown watchdog fired, forcing exit")
		os.Exit(1)
	}
	return nil
}
