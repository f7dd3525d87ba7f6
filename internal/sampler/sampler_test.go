package sampler

import "testing"

func TestEvaluateThresholdsMemoryHysteresis(t *testing.T) {
	var events []ThresholdEvent
	var warnings int
	s := New(1, Limits{MemoryBytes: 100}, Callbacks{
		OnThresholdEvent: func(e ThresholdEvent) { events = append(events, e) },
		OnMemoryWarning:  func(current, limit uint64) { warnings++ },
	}, nil)

	// Two over-limit samples: no event yet (hold count is 3).
	s.evaluateThresholds(Sample{RSSBytes: 150})
	s.evaluateThresholds(Sample{RSSBytes: 150})
	if len(events) != 0 {
		t.Fatalf("expected no threshold event before hold count reached, got %d", len(events))
	}

	// A below-limit sample resets the counter.
	s.evaluateThresholds(Sample{RSSBytes: 10})
	s.evaluateThresholds(Sample{RSSBytes: 150})
	s.evaluateThresholds(Sample{RSSBytes: 150})
	if len(events) != 0 {
		t.Fatalf("expected counter reset by the below-limit sample, got %d events", len(events))
	}

	s.evaluateThresholds(Sample{RSSBytes: 150})
	if len(events) != 1 {
		t.Fatalf("expected exactly one threshold event at hold count, got %d", len(events))
	}
	if events[0].Type != ThresholdMemory {
		t.Fatalf("expected memory threshold event, got %v", events[0].Type)
	}
}

func TestEvaluateThresholdsCPUHoldCount(t *testing.T) {
	var events []ThresholdEvent
	s := New(1, Limits{CPUPercent: 50}, Callbacks{
		OnThresholdEvent: func(e ThresholdEvent) { events = append(events, e) },
	}, nil)

	for i := 0; i < cpuHoldCount-1; i++ {
		s.evaluateThresholds(Sample{CPUPercent: 90})
	}
	if len(events) != 0 {
		t.Fatalf("expected no event before cpu hold count, got %d", len(events))
	}
	s.evaluateThresholds(Sample{CPUPercent: 90})
	if len(events) != 1 {
		t.Fatalf("expected one cpu threshold event, got %d", len(events))
	}
}

func TestRecordAndHistoryOrdering(t *testing.T) {
	s := New(1, Limits{}, Callbacks{}, nil)
	for i := 0; i < ringBufferSize+5; i++ {
		s.record(Sample{CPUPercent: float64(i)})
	}
	history := s.History()
	if len(history) != ringBufferSize {
		t.Fatalf("expected ring buffer capped at %d, got %d", ringBufferSize, len(history))
	}
	if history[len(history)-1].CPUPercent != float64(ringBufferSize+4) {
		t.Fatalf("expected newest sample last, got %v", history[len(history)-1])
	}
}
