package history

import (
	"context"
	"testing"
	"time"
)

func TestSQLiteSinkSendAndFanOut(t *testing.T) {
	sink, err := NewSQLiteSink(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	fan := NewFanOut([]Sink{sink}, func(i int, err error) {
		t.Fatalf("sink %d failed: %v", i, err)
	})
	fan.Send(context.Background(), Event{
		Type:       EventStart,
		OccurredAt: time.Now(),
		Record:     Record{ID: "id1", Name: "api", PID: 123, Running: true},
	})
	fan.Close()
}

func TestFanOutReportsButDoesNotPanicOnSinkError(t *testing.T) {
	var reported bool
	fan := NewFanOut([]Sink{failingSink{}}, func(i int, err error) { reported = true })
	fan.Send(context.Background(), Event{Type: EventStop, OccurredAt: time.Now()})
	if !reported {
		t.Fatal("expected fan-out to report the failing sink's error")
	}
}

type failingSink struct{}

func (failingSink) Send(ctx context.Context, e Event) error { return errAlways }
func (failingSink) Close() error                             { return nil }

var errAlways = &sinkError{"always fails"}

type sinkError struct{ msg string }

func (e *sinkError) Error() string { return e.msg }

func TestNewSinkFromDSNDispatchesSQLite(t *testing.T) {
	sink, err := NewSinkFromDSN(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()
	if _, ok := sink.(*SQLiteSink); !ok {
		t.Fatalf("expected *SQLiteSink, got %T", sink)
	}
}

func TestNewSinkFromDSNRejectsUnknownScheme(t *testing.T) {
	if _, err := NewSinkFromDSN("bogus://somewhere"); err == nil {
		t.Fatal("expected error for unrecognized DSN scheme")
	}
}
