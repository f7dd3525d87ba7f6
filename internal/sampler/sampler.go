// Package sampler periodically samples CPU% and RSS for a supervised pid,
// using gopsutil the way the teacher's process metrics collector does, and
// applies the hysteresis threshold rule from spec.md §4.5: a breach only
// fires after a run of consecutive over-limit samples, and resets on any
// sample back under the limit.
package sampler

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	tickInterval       = 5 * time.Second
	memoryHoldCount    = 3
	cpuHoldCount       = 5
	ringBufferSize     = 60
	memoryWarningRatio = 0.8
)

// ThresholdType names which limit a threshold-exceeded event concerns.
type ThresholdType string

const (
	ThresholdMemory ThresholdType = "memory"
	ThresholdCPU    ThresholdType = "cpu"
)

// Sample is one CPU/RSS measurement.
type Sample struct {
	At         time.Time
	CPUPercent float64
	RSSBytes   uint64
}

// ThresholdEvent fires once a hysteresis counter reaches its hold count.
type ThresholdEvent struct {
	Type    ThresholdType
	Current float64
	Limit   float64
}

// Limits bounds the resources a sampled entry is allowed.
type Limits struct {
	MemoryBytes uint64  // 0 = unlimited
	CPUPercent  float64 // 0 = unlimited
}

// Callbacks are invoked from the sampler's own goroutine; callers must not
// block in them for long since they gate the next tick.
type Callbacks struct {
	OnSample          func(Sample)
	OnThresholdEvent  func(ThresholdEvent)
	OnMemoryWarning   func(current, limit uint64)
	OnPIDGone         func()
}

// Sampler tracks one pid's resource usage across ticks.
type Sampler struct {
	pid    int32
	limits Limits
	cb     Callbacks
	log    *slog.Logger

	ring       [ringBufferSize]Sample
	ringCount  int
	ringNext   int
	memCounter int
	cpuCounter int
}

func New(pid int32, limits Limits, cb Callbacks, log *slog.Logger) *Sampler {
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{pid: pid, limits: limits, cb: cb, log: log}
}

// Run samples on a tickInterval ticker until ctx is cancelled or the pid can
// no longer be found.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.tick() {
				return
			}
		}
	}
}

func (s *Sampler) tick() bool {
	proc, err := process.NewProcess(s.pid)
	if err != nil {
		s.log.Debug("sampler: pid not found, stopping", "pid", s.pid, "error", err)
		if s.cb.OnPIDGone != nil {
			s.cb.OnPIDGone()
		}
		return false
	}
	cpuPct, err := proc.CPUPercent()
	if err != nil {
		s.log.Debug("sampler: pid not found on cpu read, stopping", "pid", s.pid, "error", err)
		if s.cb.OnPIDGone != nil {
			s.cb.OnPIDGone()
		}
		return false
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		s.log.Debug("sampler: pid not found on memory read, stopping", "pid", s.pid, "error", err)
		if s.cb.OnPIDGone != nil {
			s.cb.OnPIDGone()
		}
		return false
	}

	sample := Sample{At: time.Now(), CPUPercent: cpuPct, RSSBytes: memInfo.RSS}
	s.record(sample)
	if s.cb.OnSample != nil {
		s.cb.OnSample(sample)
	}
	s.evaluateThresholds(sample)
	return true
}

func (s *Sampler) record(sample Sample) {
	s.ring[s.ringNext] = sample
	s.ringNext = (s.ringNext + 1) % ringBufferSize
	if s.ringCount < ringBufferSize {
		s.ringCount++
	}
}

func (s *Sampler) evaluateThresholds(sample Sample) {
	if s.limits.MemoryBytes > 0 {
		if sample.RSSBytes > s.limits.MemoryBytes {
			s.memCounter++
		} else {
			s.memCounter = 0
		}
		if s.memCounter >= memoryHoldCount {
			if s.cb.OnThresholdEvent != nil {
				s.cb.OnThresholdEvent(ThresholdEvent{Type: ThresholdMemory, Current: float64(sample.RSSBytes), Limit: float64(s.limits.MemoryBytes)})
			}
			s.memCounter = 0
		} else if float64(sample.RSSBytes) >= memoryWarningRatio*float64(s.limits.MemoryBytes) {
			if s.cb.OnMemoryWarning != nil {
				s.cb.OnMemoryWarning(sample.RSSBytes, s.limits.MemoryBytes)
			}
		}
	}

	if s.limits.CPUPercent > 0 {
		if sample.CPUPercent > s.limits.CPUPercent {
			s.cpuCounter++
		} else {
			s.cpuCounter = 0
		}
		if s.cpuCounter >= cpuHoldCount {
			if s.cb.OnThresholdEvent != nil {
				s.cb.OnThresholdEvent(ThresholdEvent{Type: ThresholdCPU, Current: sample.CPUPercent, Limit: s.limits.CPUPercent})
			}
			s.cpuCounter = 0
		}
	}
}

// History returns the recorded samples in chronological order.
func (s *Sampler) History() []Sample {
	out := make([]Sample, 0, s.ringCount)
	start := (s.ringNext - s.ringCount + ringBufferSize) % ringBufferSize
	for i := 0; i < s.ringCount; i++ {
		out = append(out, s.ring[(start+i)%ringBufferSize])
	}
	return out
}
