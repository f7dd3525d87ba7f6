// Package supervisor implements the per-entry state machine from spec.md
// §4.9, integrating the Registry, RestartPolicy, Snapshotter, LogSink,
// CrashJournal, ResourceSampler, PathWatcher and HealthProbe components.
//
// The design note in spec.md §9 calls for replacing the source's
// event-emitter callbacks with "an explicit enum of states and a queue of
// events ... drained by a single worker." That queue is grounded directly
// on the teacher's internal/manager.handler.run loop (a single goroutine
// selecting over a control channel); here it is generalized into a queue of
// closures so both external commands and background events (child exit,
// threshold breach, file change, probe result) serialize onto the same
// worker without the Supervisor needing a bespoke message type per source.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/watchkeeper/warden/internal/crashjournal"
	"github.com/watchkeeper/warden/internal/env"
	"github.com/watchkeeper/warden/internal/healthprobe"
	"github.com/watchkeeper/warden/internal/history"
	"github.com/watchkeeper/warden/internal/logsink"
	"github.com/watchkeeper/warden/internal/metrics"
	"github.com/watchkeeper/warden/internal/pathwatch"
	"github.com/watchkeeper/warden/internal/procexec"
	"github.com/watchkeeper/warden/internal/registry"
	"github.com/watchkeeper/warden/internal/restartpolicy"
	"github.com/watchkeeper/warden/internal/sampler"
	"github.com/watchkeeper/warden/internal/snapshot"
	"github.com/watchkeeper/warden/internal/wardenerr"
)

// Runtime is the interpreter used to run a script, e.g. "node". Empty means
// the script is directly executable.
type Runtime string

const healthCheckOverall = 30 * time.Second

// runtimeState is everything the Supervisor tracks for one live or
// tearing-down entry beyond the Registry's own Entry record.
type runtimeState struct {
	handle      *procexec.Handle
	logSink     *logsink.Sink
	sampler     *sampler.Sampler
	samplerStop context.CancelFunc
	watcher     *pathwatch.Watcher
	probeCancel context.CancelFunc
	stopWait    bool // true once Stop has been requested, so exit handling knows not to restart
}

// Supervisor owns the Registry and every background activity attached to
// its entries. All Registry mutation happens inside queue-drained closures,
// satisfying spec.md §3 invariant 5.
type Supervisor struct {
	dataDir string
	runtime Runtime
	env     *env.Env
	reg     *registry.Registry
	snap    *snapshot.Snapshotter
	journal *crashjournal.Journal
	hist    *history.FanOut
	prober  *healthprobe.Prober
	log     *slog.Logger

	queue chan func()
	done  chan struct{}
	ctx   context.Context

	mu       sync.Mutex // guards runtimes only; Entry mutation stays on the queue goroutine
	runtimes map[string]*runtimeState

	// books holds each entry's RestartBook across relaunches, keyed by
	// entry id. Unlike runtimeState it survives a launch/exit cycle, since
	// the crash-loop window (spec.md §4.8) must see crashes from before the
	// most recent restart. Only ever touched from the queue goroutine.
	books map[string]*restartpolicy.Book
}

// Options configures a new Supervisor.
type Options struct {
	DataDir string
	Runtime Runtime
	Env     *env.Env
	Journal *crashjournal.Journal
	History *history.FanOut
	Log     *slog.Logger
}

func New(opts Options) *Supervisor {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	e := opts.Env
	if e == nil {
		e = env.New()
	}
	s := &Supervisor{
		dataDir:  opts.DataDir,
		runtime:  opts.Runtime,
		env:      e,
		reg:      registry.New(),
		journal:  opts.Journal,
		hist:     opts.History,
		prober:   healthprobe.New(),
		log:      log,
		queue:    make(chan func(), 256),
		done:     make(chan struct{}),
		runtimes: make(map[string]*runtimeState),
		books:    make(map[string]*restartpolicy.Book),
	}
	s.snap = snapshot.New(dataStatePath(opts.DataDir), s.snapshotProducer, log)
	return s
}

func dataStatePath(dataDir string) string { return dataDir + "/state.json" }

// Run drains the command/event queue until ctx is cancelled. It must be
// started exactly once, before any other method is called.
func (s *Supervisor) Run(ctx context.Context) {
	s.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			close(s.done)
			return
		case fn := <-s.queue:
			fn()
		}
	}
}

// do enqueues fn and blocks until it runs, returning fn's error. Used by
// every synchronous, externally triggered operation (ControlPlane
// commands); background events use post instead and do not block their
// caller.
func (s *Supervisor) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.queue <- func() { reply <- fn() }:
	case <-s.done:
		return wardenerr.Internal("do", fmt.Errorf("supervisor is shutting down"))
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return wardenerr.Internal("do", fmt.Errorf("supervisor is shutting down"))
	}
}

// post enqueues fn without waiting, for background events.
func (s *Supervisor) post(fn func()) {
	select {
	case s.queue <- fn:
	case <-s.done:
	}
}

func (s *Supervisor) snapshotProducer() []*registry.Entry { return s.reg.List() }

// Snapshotter exposes the Snapshotter so the Daemon can flush it at shutdown.
func (s *Supervisor) Snapshotter() *snapshot.Snapshotter { return s.snap }

// Registry exposes the Registry for read-only inspection. Status listing
// itself is still routed through do() to observe a consistent view.
func (s *Supervisor) Registry() *registry.Registry { return s.reg }

// ---- external operations -------------------------------------------------

// Start registers spec as a new entry and launches it. Name collisions
// against a non-stopped entry are rejected per spec.md §3 invariant 3.
func (s *Supervisor) Start(spec registry.Spec) (*registry.Entry, error) {
	var result *registry.Entry
	err := s.do(func() error {
		if s.reg.NameLive(spec.Name) {
			return wardenerr.Conflict("start", fmt.Errorf("entry %q is already running", spec.Name))
		}
		id, err := s.reg.GenerateID()
		if err != nil {
			return wardenerr.Internal("start", err)
		}
		applySpecDefaults(&spec)
		e := &registry.Entry{ID: id, Name: spec.Name, Spec: spec, State: registry.StateStarting}
		s.reg.Add(e)
		s.snap.MarkDirty()
		if err := s.launch(e); err != nil {
			// spawn fail: the entry never existed from the caller's point of
			// view, per spec.md §4.9's starting->(deleted) transition.
			s.reg.Remove(id)
			delete(s.books, id)
			s.snap.MarkDirty()
			result = nil
			return wardenerr.Internal("start", err)
		}
		result = e
		return nil
	})
	return result, err
}

// StartExisting respawns e, an entry loaded from a Snapshot at boot,
// preserving its id and restart_count instead of minting a fresh entry the
// way Start does. Per spec.md §4.11, a respawn failure is the caller's
// (Daemon's) responsibility to log and drop; StartExisting itself still
// removes the entry from the Registry on spawn failure so it never lingers
// with a zero pid.
func (s *Supervisor) StartExisting(e *registry.Entry) error {
	return s.do(func() error {
		applySpecDefaults(&e.Spec)
		e.State = registry.StateStarting
		e.OSPid = 0
		s.reg.Add(e)
		s.snap.MarkDirty()
		if err := s.launch(e); err != nil {
			s.reg.Remove(e.ID)
			delete(s.books, e.ID)
			s.snap.MarkDirty()
			return wardenerr.Internal("start_existing", err)
		}
		return nil
	})
}

func applySpecDefaults(spec *registry.Spec) {
	if spec.LogFormat == "" {
		spec.LogFormat = "text"
	}
	if spec.LogOutput == "" {
		spec.LogOutput = "file"
	}
	if spec.Instances == 0 {
		spec.Instances = 1
	}
}

// Stop requests a graceful shutdown of target (id or name), waiting up to
// wait (never more than procexec's 10s grace period) for it to exit before
// escalating to SIGKILL.
func (s *Supervisor) Stop(target string, wait time.Duration) (*registry.Entry, error) {
	var result *registry.Entry
	err := s.do(func() error {
		e, ok := s.reg.Resolve(target)
		if !ok {
			return wardenerr.NotFound("stop", fmt.Errorf("no entry matches %q", target))
		}
		result = e
		return s.stopLocked(e, wait)
	})
	return result, err
}

func (s *Supervisor) stopLocked(e *registry.Entry, wait time.Duration) error {
	rt, ok := s.runtimeFor(e.ID)
	if !ok || rt.handle == nil {
		e.State = registry.StateStopped
		s.snap.MarkDirty()
		return nil
	}
	rt.stopWait = true
	e.State = registry.StateStopping
	s.snap.MarkDirty()

	stopCtx := s.ctx
	if wait > 0 {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(s.ctx, wait)
		defer cancel()
	}
	// Stop blocks the queue goroutine for at most stopGrace; acceptable since
	// a live Stop call is itself already serialized against other commands.
	_ = rt.handle.Stop(stopCtx)
	return nil
}

// Restart stops then re-launches target with its existing spec.
func (s *Supervisor) Restart(target string) (*registry.Entry, error) {
	var result *registry.Entry
	err := s.do(func() error {
		e, ok := s.reg.Resolve(target)
		if !ok {
			return wardenerr.NotFound("restart", fmt.Errorf("no entry matches %q", target))
		}
		if err := s.stopLocked(e, 10*time.Second); err != nil {
			return err
		}
		e.State = registry.StateStarting
		e.RestartCount++
		e.LastRestartReason = registry.ReasonManual
		e.LastRestartTime = time.Now()
		s.snap.MarkDirty()
		result = e
		return s.launch(e)
	})
	return result, err
}

// Status returns a snapshot of all entries, or just the one target resolves
// to when target is non-empty.
func (s *Supervisor) Status(target string) ([]*registry.Entry, error) {
	var result []*registry.Entry
	err := s.do(func() error {
		if target == "" || target == "all" {
			result = s.reg.List()
			return nil
		}
		e, ok := s.reg.Resolve(target)
		if !ok {
			return wardenerr.NotFound("status", fmt.Errorf("no entry matches %q", target))
		}
		result = []*registry.Entry{e}
		return nil
	})
	return result, err
}

// Logs returns the last n lines of target's captured output.
func (s *Supervisor) Logs(target string, n int) ([]string, error) {
	var result []string
	err := s.do(func() error {
		e, ok := s.reg.Resolve(target)
		if !ok {
			return wardenerr.NotFound("logs", fmt.Errorf("no entry matches %q", target))
		}
		lines, err := logsink.Tail(s.dataDir, e.ID, n)
		if err != nil {
			return wardenerr.IOErr("logs", err)
		}
		result = lines
		return nil
	})
	return result, err
}

// Save forces an immediate, synchronous snapshot write rather than waiting
// for the debounce window to elapse.
func (s *Supervisor) Save() error {
	return s.do(func() error {
		s.snap.Flush()
		return nil
	})
}

// Delete stops (if running) and removes target from the Registry entirely.
func (s *Supervisor) Delete(target string) error {
	return s.do(func() error {
		e, ok := s.reg.Resolve(target)
		if !ok {
			return wardenerr.NotFound("delete", fmt.Errorf("no entry matches %q", target))
		}
		_ = s.stopLocked(e, 10*time.Second)
		s.teardownRuntime(e.ID)
		delete(s.books, e.ID)
		s.reg.Remove(e.ID)
		s.snap.MarkDirty()
		return nil
	})
}

// ---- launch / exit handling -----------------------------------------------

func (s *Supervisor) runtimeFor(id string) (*runtimeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.runtimes[id]
	return rt, ok
}

func (s *Supervisor) setRuntime(id string, rt *runtimeState) {
	s.mu.Lock()
	s.runtimes[id] = rt
	s.mu.Unlock()
}

func (s *Supervisor) teardownRuntime(id string) {
	s.mu.Lock()
	rt, ok := s.runtimes[id]
	delete(s.runtimes, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	if rt.samplerStop != nil {
		rt.samplerStop()
	}
	if rt.probeCancel != nil {
		rt.probeCancel()
	}
	if rt.watcher != nil {
		rt.watcher.Close()
	}
	if rt.logSink != nil {
		rt.logSink.Close()
	}
}

// launch spawns e's child process and attaches its background activities.
// Called only on the queue goroutine (from inside a do()-dispatched or
// posted closure), after Run has set s.ctx.
func (s *Supervisor) launch(e *registry.Entry) error {
	sink, err := logsink.New(s.dataDir, e.ID, e.Name, logsink.Format(e.Spec.LogFormat), logsink.Destination(e.Spec.LogOutput), stdoutWriter{})
	if err != nil {
		return fmt.Errorf("open log sink: %w", err)
	}

	perProc := make([]string, 0, len(e.Spec.Env))
	for k, v := range e.Spec.Env {
		perProc = append(perProc, k+"="+v)
	}
	envList := s.env.Merge(perProc)

	handle, err := procexec.Spawn(s.ctx, procexec.Runtime(s.runtime), e.Spec.Script, e.Spec.Args, e.Spec.Cwd, envList,
		sinkWriter{sink: sink, level: logsink.LevelInfo}, sinkWriter{sink: sink, level: logsink.LevelError})
	if err != nil {
		sink.Close()
		return fmt.Errorf("spawn: %w", err)
	}

	rt := &runtimeState{handle: handle, logSink: sink}
	s.setRuntime(e.ID, rt)
	if _, ok := s.books[e.ID]; !ok {
		s.books[e.ID] = restartpolicy.NewBook(e.Spec.RestartDelay, 0, e.Spec.MaxRestarts)
	}

	e.OSPid = handle.PID()
	e.StartTime = time.Now()
	metrics.IncStart(e.Name)
	metrics.RecordStateTransition(e.Name, string(e.State), string(registry.StateRunning))

	if e.Spec.HealthCheck != "" {
		s.attachHealthProbe(e, rt)
	} else {
		e.State = registry.StateRunning
		metrics.SetCurrentState(e.Name, string(registry.StateRunning), true)
	}

	if e.Spec.MemoryLimit > 0 || e.Spec.CPULimit > 0 {
		s.attachSampler(e, rt)
	}
	if e.Spec.Watch {
		s.attachWatcher(e, rt)
	}

	id := e.ID
	go func() {
		waitErr := handle.Wait()
		s.post(func() { s.handleExit(id, handle, waitErr) })
	}()

	s.sendHistory(history.EventStart, e, nil)
	s.snap.MarkDirty()
	return nil
}

func (s *Supervisor) attachHealthProbe(e *registry.Entry, rt *runtimeState) {
	ctx, cancel := context.WithCancel(s.ctx)
	rt.probeCancel = cancel
	url := e.Spec.HealthCheck
	id := e.ID
	go func() {
		ok := s.prober.WaitReady(ctx, url, healthCheckOverall)
		s.post(func() { s.handleProbeResult(id, ok) })
	}()
}

func (s *Supervisor) handleProbeResult(id string, ok bool) {
	e, found := s.reg.GetByID(id)
	if !found || e.State != registry.StateStarting {
		return
	}
	// A failed readiness probe only ever produces an advisory: the entry
	// stays running, per spec.md §9 (the source's own mark-as-errored
	// behavior is not carried over).
	e.State = registry.StateRunning
	metrics.SetCurrentState(e.Name, string(registry.StateRunning), true)
	if !ok {
		s.log.Warn("health check never became ready", "entry", e.Name, "url", e.Spec.HealthCheck)
	}
	s.snap.MarkDirty()
}

func (s *Supervisor) attachSampler(e *registry.Entry, rt *runtimeState) {
	ctx, cancel := context.WithCancel(s.ctx)
	rt.samplerStop = cancel
	id := e.ID
	limits := sampler.Limits{MemoryBytes: uint64(e.Spec.MemoryLimit), CPUPercent: e.Spec.CPULimit}
	smp := sampler.New(int32(e.OSPid), limits, sampler.Callbacks{
		OnSample: func(sm sampler.Sample) {
			s.post(func() {
				if entry, ok := s.reg.GetByID(id); ok {
					entry.CPUPercent = sm.CPUPercent
					entry.RSSBytes = sm.RSSBytes
					metrics.SetResourceSample(entry.Name, sm.CPUPercent, sm.RSSBytes)
				}
			})
		},
		OnThresholdEvent: func(ev sampler.ThresholdEvent) {
			s.post(func() { s.handleThresholdEvent(id, ev) })
		},
		OnMemoryWarning: func(current, limit uint64) {
			s.post(func() {
				if entry, ok := s.reg.GetByID(id); ok {
					s.log.Warn("memory usage approaching limit", "entry", entry.Name, "rss_bytes", current, "limit_bytes", limit)
				}
			})
		},
	}, s.log)
	rt.sampler = smp
	go smp.Run(ctx)
}

func (s *Supervisor) handleThresholdEvent(id string, ev sampler.ThresholdEvent) {
	e, ok := s.reg.GetByID(id)
	if !ok || e.State != registry.StateRunning {
		return
	}
	metrics.IncThresholdEvent(e.Name, string(ev.Type))
	reason := registry.ReasonMemory
	if ev.Type == sampler.ThresholdCPU {
		reason = registry.ReasonCPU
	}
	s.log.Warn("resource threshold exceeded, restarting", "entry", e.Name, "type", ev.Type, "current", ev.Current, "limit", ev.Limit)
	s.restartForReason(e, reason)
}

func (s *Supervisor) attachWatcher(e *registry.Entry, rt *runtimeState) {
	id := e.ID
	w, err := pathwatch.New(id, e.Spec.Script, e.Spec.WatchIgnore, s.dataDir, func(changedID string) {
		s.post(func() { s.handleFileChange(changedID) })
	}, s.log)
	if err != nil {
		s.log.Warn("failed to start path watcher", "entry", e.Name, "error", err)
		return
	}
	rt.watcher = w
}

func (s *Supervisor) handleFileChange(id string) {
	e, ok := s.reg.GetByID(id)
	if !ok || e.State != registry.StateRunning {
		return
	}
	s.log.Info("file change detected, restarting", "entry", e.Name)
	s.restartForReason(e, registry.ReasonFileChange)
}

// restartForReason stops the running entry and immediately relaunches it,
// bypassing RestartPolicy backoff since the restart was triggered by policy
// (resource limit or watched file change) rather than a crash.
func (s *Supervisor) restartForReason(e *registry.Entry, reason registry.RestartReason) {
	_ = s.stopLocked(e, 10*time.Second)
	e.RestartCount++
	e.LastRestartReason = reason
	e.LastRestartTime = time.Now()
	e.State = registry.StateStarting
	metrics.IncRestart(e.Name, string(reason))
	s.snap.MarkDirty()
	if err := s.launch(e); err != nil {
		e.State = registry.StateErrored
		s.log.Error("restart failed", "entry", e.Name, "reason", reason, "error", err)
		s.snap.MarkDirty()
	}
}

// handleExit runs when a child process exits, whether requested or not. h is
// the handle the exit-watcher goroutine was waiting on; if the entry's
// runtime has since moved on to a different handle (a stop-then-relaunch
// already completed while this exit event was queued), it is stale and
// discarded.
func (s *Supervisor) handleExit(id string, h *procexec.Handle, waitErr error) {
	e, ok := s.reg.GetByID(id)
	if !ok {
		return
	}
	rt, rtOK := s.runtimeFor(id)
	if rtOK && rt.handle != h {
		return
	}
	wasRequested := rtOK && rt.stopWait
	s.teardownRuntime(id)
	metrics.IncStop(e.Name)

	code, sig, crashed := exitInfo(waitErr)
	s.sendHistory(history.EventStop, e, waitErr)

	if wasRequested {
		// stopping->stopped per spec.md §4.9 detaches sinks and removes the
		// entry entirely; a completed Stop leaves nothing behind to inspect.
		s.reg.Remove(id)
		delete(s.books, id)
		s.snap.MarkDirty()
		return
	}

	if !crashed {
		// A deliberate exit(0) with nobody having asked it to stop is still
		// treated as a stop, per spec.md §4.9: only non-zero/ signaled exits
		// evaluate the restart policy.
		e.State = registry.StateStopped
		metrics.SetCurrentState(e.Name, string(registry.StateStopped), true)
		s.snap.MarkDirty()
		return
	}

	if s.journal != nil {
		_ = s.journal.Append(id, crashjournal.Record{
			Timestamp: time.Now(), ID: id, Name: e.Name, ExitCode: code, Signal: sig,
			CPUPercent: e.CPUPercent, RSSBytes: e.RSSBytes,
			UptimeMS: e.UptimeMS(time.Now()), RestartCount: e.RestartCount,
		})
	}
	s.sendHistory(history.EventCrash, e, waitErr)

	book, ok := s.books[id]
	if !ok {
		book = restartpolicy.NewBook(e.Spec.RestartDelay, 0, e.Spec.MaxRestarts)
		s.books[id] = book
	}
	decision := book.Evaluate(time.Now())
	if !decision.Restart {
		e.State = registry.StateErrored
		metrics.SetCurrentState(e.Name, string(registry.StateErrored), true)
		if decision.CrashLoop {
			metrics.IncCrashLoop(e.Name)
			s.log.Error("entry is crash-looping, giving up", "entry", e.Name)
		} else {
			s.log.Error("entry exceeded max restarts, giving up", "entry", e.Name)
		}
		s.snap.MarkDirty()
		return
	}

	e.State = registry.StateRestarting
	e.RestartCount++
	e.LastRestartReason = registry.ReasonCrash
	e.LastRestartTime = time.Now()
	metrics.IncRestart(e.Name, string(registry.ReasonCrash))
	s.snap.MarkDirty()

	delay := decision.Delay
	go func() {
		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return
		}
		s.post(func() {
			ent, ok := s.reg.GetByID(id)
			if !ok || ent.State != registry.StateRestarting {
				return
			}
			ent.State = registry.StateStarting
			if err := s.launch(ent); err != nil {
				ent.State = registry.StateErrored
				s.log.Error("restart after crash failed", "entry", ent.Name, "error", err)
				s.snap.MarkDirty()
				return
			}
			book.ResetAttempts()
		})
	}()
}

func (s *Supervisor) sendHistory(evType history.EventType, e *registry.Entry, exitErr error) {
	if s.hist == nil {
		return
	}
	rec := history.Record{
		ID: e.ID, Name: e.Name, PID: e.OSPid, StartedAt: e.StartTime,
		Running: e.State == registry.StateRunning || e.State == registry.StateStarting,
		RestartCount: e.RestartCount,
	}
	if exitErr != nil {
		rec.ExitErr = exitErr.Error()
		rec.StoppedAt = time.Now()
	}
	s.hist.Send(s.ctx, history.Event{Type: evType, OccurredAt: time.Now(), Record: rec})
}

// exitInfo decodes a child's *exec.ExitError (or nil, for a clean exit) into
// an exit code, an optional signal name, and whether the exit counts as a
// crash for restart-policy purposes: anything other than a clean, unsignaled
// exit(0).
func exitInfo(err error) (code int, signal string, crashed bool) {
	if err == nil {
		return 0, "", false
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, "", true
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, ws.Signal().String(), true
	}
	code = exitErr.ExitCode()
	return code, "", code != 0
}

// sinkWriter adapts a logsink.Sink into an io.Writer at a fixed level, so
// procexec.Spawn can treat a child's stdout and stderr identically.
type sinkWriter struct {
	sink  *logsink.Sink
	level logsink.Level
}

func (w sinkWriter) Write(p []byte) (int, error) {
	if err := w.sink.Write(w.level, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// stdoutWriter is the daemon's own stdout, used when an entry's log_output
// is "stdout" instead of "file".
type stdoutWriter struct{}

func (stdoutWriter) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
