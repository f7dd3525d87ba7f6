// Package metrics exposes Prometheus collectors for the supervision
// engine, adapted from the teacher's internal/metrics package (same
// register-once idiom, same style of Inc*/Set* helpers that no-op before
// Register is called) with the warden namespace and this spec's own event
// vocabulary: crash-loop denials, threshold breaches, resource samples.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	entryStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "warden", Subsystem: "entry", Name: "starts_total", Help: "Number of successful entry starts."},
		[]string{"name"},
	)
	entryRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "warden", Subsystem: "entry", Name: "restarts_total", Help: "Number of automatic restarts."},
		[]string{"name", "reason"},
	)
	entryStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "warden", Subsystem: "entry", Name: "stops_total", Help: "Number of stops, graceful or killed."},
		[]string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "warden", Subsystem: "entry", Name: "state_transitions_total", Help: "Number of state transitions."},
		[]string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "warden", Subsystem: "entry", Name: "current_state", Help: "1 for the entry's current state, 0 otherwise."},
		[]string{"name", "state"},
	)
	crashLoopDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "warden", Subsystem: "policy", Name: "crash_loop_total", Help: "Number of times an entry was denied restart due to crash-loop detection."},
		[]string{"name"},
	)
	thresholdEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "warden", Subsystem: "sampler", Name: "threshold_exceeded_total", Help: "Number of resource threshold-exceeded events."},
		[]string{"name", "type"},
	)
	cpuGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "warden", Subsystem: "sampler", Name: "cpu_percent", Help: "Last sampled CPU percent."},
		[]string{"name"},
	)
	rssGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "warden", Subsystem: "sampler", Name: "rss_bytes", Help: "Last sampled resident set size."},
		[]string{"name"},
	)
)

// Register registers all collectors with r. Safe to call more than once.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{entryStarts, entryRestarts, entryStops, stateTransitions, currentStates, crashLoopDenials, thresholdEvents, cpuGauge, rssGauge}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the Prometheus exposition format for the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart(name string) {
	if regOK.Load() {
		entryStarts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name, reason string) {
	if regOK.Load() {
		entryRestarts.WithLabelValues(name, reason).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		entryStops.WithLabelValues(name).Inc()
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if !regOK.Load() {
		return
	}
	var v float64
	if active {
		v = 1
	}
	currentStates.WithLabelValues(name, state).Set(v)
}

func IncCrashLoop(name string) {
	if regOK.Load() {
		crashLoopDenials.WithLabelValues(name).Inc()
	}
}

func IncThresholdEvent(name, thresholdType string) {
	if regOK.Load() {
		thresholdEvents.WithLabelValues(name, thresholdType).Inc()
	}
}

func SetResourceSample(name string, cpuPercent float64, rssBytes uint64) {
	if !regOK.Load() {
		return
	}
	cpuGauge.WithLabelValues(name).Set(cpuPercent)
	rssGauge.WithLabelValues(name).Set(float64(rssBytes))
}
