// Package snapshot persists the Registry atomically and debounces bursts of
// dirtying into a single write, the way teacher code writes pid files and
// the oarkflow-supervisor example coalesces filesystem events: a timer is
// reset on every mark, and only fires once the quiet period elapses.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/watchkeeper/warden/internal/registry"
)

const quietPeriod = 1 * time.Second

// Snapshot is the on-disk representation of the Registry at a point in time.
type Snapshot struct {
	Version   int                 `json:"version"`
	Timestamp time.Time           `json:"timestamp"`
	Entries   []*registry.Entry   `json:"entries"`
}

const currentVersion = 1

// Producer returns the entries to serialize into the next snapshot. It is
// called from the Supervisor's context at the moment the debounced write
// actually fires, so the snapshot reflects the Registry at or after the
// dirty that triggered it.
type Producer func() []*registry.Entry

// Snapshotter debounces writes and performs the atomic temp+rename replace.
type Snapshotter struct {
	path     string
	produce  Producer
	log      *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	closed  bool
}

func New(path string, produce Producer, log *slog.Logger) *Snapshotter {
	if log == nil {
		log = slog.Default()
	}
	return &Snapshotter{path: path, produce: produce, log: log}
}

// MarkDirty schedules a write quietPeriod from now, collapsing any burst of
// calls into the single write that follows the last one.
func (s *Snapshotter) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(quietPeriod, s.flush)
}

// Close cancels any pending debounced write and performs one final
// synchronous flush so state is never lost at shutdown.
func (s *Snapshotter) Close() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.closed = true
	s.mu.Unlock()
	s.flush()
}

// Flush performs an immediate synchronous write, bypassing the debounce
// window. Used when a caller explicitly asks to persist now (the Save
// control-plane action).
func (s *Snapshotter) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.flush()
}

func (s *Snapshotter) flush() {
	snap := Snapshot{
		Version:   currentVersion,
		Timestamp: time.Now(),
		Entries:   s.produce(),
	}
	if err := s.writeAtomic(snap); err != nil {
		s.log.Warn("snapshot write failed", "path", s.path, "error", err)
	}
}

func (s *Snapshotter) writeAtomic(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}

// Load parses the snapshot file. A missing file returns an empty, non-error
// Snapshot. A file that fails to parse is quarantined to <path>.backup and
// an empty Snapshot is returned, per spec.md §3 invariant 4.
func Load(path string, log *slog.Logger) Snapshot {
	if log == nil {
		log = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("snapshot read failed", "path", path, "error", err)
		}
		return Snapshot{Version: currentVersion, Entries: nil}
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn("snapshot failed to parse, quarantining", "path", path, "error", err)
		if rerr := os.Rename(path, path+".backup"); rerr != nil {
			log.Warn("snapshot quarantine failed", "path", path, "error", rerr)
		}
		return Snapshot{Version: currentVersion, Entries: nil}
	}
	return snap
}
