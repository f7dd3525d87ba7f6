package restartpolicy

import (
	"testing"
	"time"
)

func TestExponentialBackoffSchedule(t *testing.T) {
	b := NewBook(1000*time.Millisecond, 30000*time.Millisecond, 10)
	now := time.Now()

	want := []time.Duration{1000, 2000, 4000}
	for i, w := range want {
		d := b.Evaluate(now.Add(time.Duration(i) * time.Millisecond))
		if !d.Restart {
			t.Fatalf("expected restart granted at attempt %d", i)
		}
		if d.Delay != w*time.Millisecond {
			t.Fatalf("attempt %d: expected delay %v, got %v", i, w*time.Millisecond, d.Delay)
		}
	}
}

func TestMaxRestartsDenies(t *testing.T) {
	b := NewBook(time.Millisecond, time.Millisecond, 2)
	now := time.Now()

	for i := 0; i < 2; i++ {
		d := b.Evaluate(now.Add(time.Duration(i) * time.Second))
		if !d.Restart {
			t.Fatalf("expected grant under max_restarts, attempt %d", i)
		}
	}
	d := b.Evaluate(now.Add(5 * time.Second))
	if d.Restart || d.Reason != "max-restarts" {
		t.Fatalf("expected max-restarts denial, got %+v", d)
	}
}

func TestCrashLoopDetectionWithinWindow(t *testing.T) {
	b := NewBook(time.Millisecond, time.Millisecond, 100)
	now := time.Now()

	for i := 0; i < 4; i++ {
		d := b.Evaluate(now.Add(time.Duration(i) * time.Second))
		if !d.Restart {
			t.Fatalf("expected grant before crash-loop threshold, attempt %d: %+v", i, d)
		}
	}
	d := b.Evaluate(now.Add(5 * time.Second))
	if d.Restart || d.Reason != "crash-loop" || !d.CrashLoop {
		t.Fatalf("expected crash-loop denial on the 5th crash within window, got %+v", d)
	}
	if !b.InCrashLoop {
		t.Fatal("expected InCrashLoop flag set")
	}
}

func TestCrashWindowExpiry(t *testing.T) {
	b := NewBook(time.Millisecond, time.Millisecond, 100)
	now := time.Now()

	for i := 0; i < 4; i++ {
		b.Evaluate(now.Add(time.Duration(i) * time.Millisecond))
	}
	// Far outside the 60s window: old crash times should have been dropped.
	d := b.Evaluate(now.Add(2 * time.Minute))
	if !d.Restart {
		t.Fatalf("expected grant once earlier crashes expired from the window, got %+v", d)
	}
}

func TestResetAttemptsClearsCounterButKeepsCrashTimes(t *testing.T) {
	b := NewBook(time.Millisecond, time.Millisecond, 100)
	now := time.Now()
	b.Evaluate(now)
	b.Evaluate(now.Add(time.Second))

	b.ResetAttempts()
	if b.Attempts != 0 || b.InCrashLoop {
		t.Fatalf("expected attempts reset and crash-loop cleared, got %+v", b)
	}
	if len(b.CrashTimes) != 2 {
		t.Fatalf("expected crash-time window preserved across reset, got %d entries", len(b.CrashTimes))
	}
}
