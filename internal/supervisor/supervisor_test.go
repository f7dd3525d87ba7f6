package supervisor

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/watchkeeper/warden/internal/crashjournal"
	"github.com/watchkeeper/warden/internal/registry"
)

func newTestSupervisor(t *testing.T) (*Supervisor, context.CancelFunc) {
	t.Helper()
	dir := t.TempDir()
	sup := New(Options{
		DataDir: dir,
		Journal: crashjournal.New(dir),
	})
	ctx, cancel := context.WithCancel(context.Background())
	go sup.Run(ctx)
	t.Cleanup(cancel)
	return sup, cancel
}

func waitForState(t *testing.T, sup *Supervisor, id string, want registry.State, within time.Duration) *registry.Entry {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		e, ok := sup.Registry().GetByID(id)
		if ok && e.State == want {
			return e
		}
		time.Sleep(10 * time.Millisecond)
	}
	e, _ := sup.Registry().GetByID(id)
	t.Fatalf("entry never reached state %q within %v, last seen: %+v", want, within, e)
	return nil
}

func waitForRemoval(t *testing.T, sup *Supervisor, id string, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if _, ok := sup.Registry().GetByID(id); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("entry %q was not removed within %v", id, within)
}

func sleepSpec(name string, seconds int) registry.Spec {
	return registry.Spec{
		Name:   name,
		Script: "/bin/sh",
		Args:   []string{"-c", "sleep " + strconv.Itoa(seconds)},
	}
}

// TestStartStopLifecycleRemovesEntry covers spec.md §8 scenario 1: a stopped
// entry is removed from the Registry, not merely marked stopped.
func TestStartStopLifecycleRemovesEntry(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	e, err := sup.Start(sleepSpec("sleeper", 30))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, sup, e.ID, registry.StateRunning, time.Second)

	if _, err := sup.Stop(e.ID, 2*time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitForRemoval(t, sup, e.ID, 3*time.Second)
}

// TestCleanExitWithoutStopRequestLeavesEntryStopped covers spec.md §4.9: an
// exit(0) that nobody asked for is treated as a stop, not a crash, and the
// entry is left in place as `stopped` rather than restarted.
func TestCleanExitWithoutStopRequestLeavesEntryStopped(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	spec := registry.Spec{Name: "quick-exit", Script: "/bin/sh", Args: []string{"-c", "exit 0"}}
	e, err := sup.Start(spec)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, sup, e.ID, registry.StateStopped, 2*time.Second)

	got, ok := sup.Registry().GetByID(e.ID)
	if !ok {
		t.Fatal("expected entry to remain in registry after a clean, unrequested exit")
	}
	if got.RestartCount != 0 {
		t.Fatalf("expected no restart attempt on a clean exit, got restart_count=%d", got.RestartCount)
	}
}

// TestCrashTriggersRestartWithBackoff covers spec.md §4.8: a non-zero exit
// is evaluated against the RestartBook and, when granted, relaunches the
// entry and increments restart_count.
func TestCrashTriggersRestartWithBackoff(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	spec := registry.Spec{
		Name:         "crasher",
		Script:       "/bin/sh",
		Args:         []string{"-c", "exit 1"},
		RestartDelay: 20 * time.Millisecond,
		MaxRestarts:  5,
	}
	e, err := sup.Start(spec)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := sup.Registry().GetByID(e.ID); ok && got.RestartCount >= 1 {
			if got.LastRestartReason != registry.ReasonCrash {
				t.Fatalf("expected restart reason crash, got %q", got.LastRestartReason)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected at least one restart after a crashing exit")
}

// TestMaxRestartsGivesUp covers spec.md §4.8: once the RestartBook denies a
// restart, the entry settles into errored and is not relaunched again.
func TestMaxRestartsGivesUp(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	spec := registry.Spec{
		Name:         "give-up",
		Script:       "/bin/sh",
		Args:         []string{"-c", "exit 1"},
		RestartDelay: 5 * time.Millisecond,
		MaxRestarts:  1,
	}
	e, err := sup.Start(spec)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, sup, e.ID, registry.StateErrored, 3*time.Second)

	restartCountAtGiveUp := func() int {
		got, _ := sup.Registry().GetByID(e.ID)
		return got.RestartCount
	}
	count := restartCountAtGiveUp()
	time.Sleep(200 * time.Millisecond)
	if restartCountAtGiveUp() != count {
		t.Fatalf("expected no further restarts after giving up, count moved from %d to %d", count, restartCountAtGiveUp())
	}
}

// TestDeleteRemovesEntryEvenWhileRunning covers spec.md §4.9's delete
// operation: it stops a live entry and forgets it in one step.
func TestDeleteRemovesEntryEvenWhileRunning(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	e, err := sup.Start(sleepSpec("to-delete", 30))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForState(t, sup, e.ID, registry.StateRunning, time.Second)

	if err := sup.Delete(e.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := sup.Registry().GetByID(e.ID); ok {
		t.Fatal("expected entry gone immediately after Delete returns")
	}
}

// TestDuplicateNameRejected covers spec.md §3 invariant 3: a second Start
// against a name that already resolves to a live entry is a conflict.
func TestDuplicateNameRejected(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	spec := sleepSpec("dup", 30)
	if _, err := sup.Start(spec); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := sup.Start(spec); err == nil {
		t.Fatal("expected conflict starting a second entry with the same live name")
	}
}

// TestStartExistingPreservesIDAndRestartCount covers the snapshot-restore
// path used at daemon boot (spec.md §4.11): unlike Start, it must not mint a
// fresh id or reset restart bookkeeping.
func TestStartExistingPreservesIDAndRestartCount(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	e := &registry.Entry{
		ID:           "preserved-id",
		Name:         "restored",
		Spec:         sleepSpec("restored", 30),
		RestartCount: 3,
	}
	if err := sup.StartExisting(e); err != nil {
		t.Fatalf("start existing: %v", err)
	}
	waitForState(t, sup, "preserved-id", registry.StateRunning, time.Second)

	got, ok := sup.Registry().GetByID("preserved-id")
	if !ok {
		t.Fatal("expected entry to be present under its original id")
	}
	if got.RestartCount != 3 {
		t.Fatalf("expected restart_count preserved at 3, got %d", got.RestartCount)
	}
}
