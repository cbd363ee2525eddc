// Package metrics exposes Prometheus collectors for the interception agent.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level collectors. They are registered via Register.
var (
	regOK atomic.Bool

	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "applock",
			Subsystem: "monitor",
			Name:      "cycles_total",
			Help:      "Number of poll cycles by result.",
		}, []string{"result"},
	)
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "applock",
			Subsystem: "monitor",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one poll cycle including dispatch.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	observedProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "applock",
			Subsystem: "monitor",
			Name:      "observed_processes",
			Help:      "Processes seen by the last snapshot.",
		},
	)
	interceptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "applock",
			Subsystem: "intercept",
			Name:      "attempts_total",
			Help:      "Interception attempts by outcome and reason.",
		}, []string{"outcome", "reason"},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "applock",
			Subsystem: "intercept",
			Name:      "terminations_total",
			Help:      "Denied processes by how they ended (graceful, forced, failed).",
		}, []string{"mode"},
	)
	promptDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "applock",
			Subsystem: "intercept",
			Name:      "prompt_duration_seconds",
			Help:      "Time the user spent on the challenge.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 15, 30, 60},
		},
	)
	survivors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "applock",
			Subsystem: "monitor",
			Name:      "survivors_total",
			Help:      "Matched processes ignored because they were older than the recency window.",
		},
	)
	detections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "applock",
			Subsystem: "monitor",
			Name:      "packaged_detections_total",
			Help:      "Packaged-app name matches (detection only).",
		}, []string{"app"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{cycles, cycleDuration, observedProcesses, interceptions, terminations, promptDuration, survivors, detections}
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

// Handler serves metrics from the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register succeeds.

func IncCycle(result string) {
	if regOK.Load() {
		cycles.WithLabelValues(result).Inc()
	}
}

func ObserveCycle(seconds float64, observed int) {
	if regOK.Load() {
		cycleDuration.Observe(seconds)
		observedProcesses.Set(float64(observed))
	}
}

func IncAttempt(outcome, reason string) {
	if regOK.Load() {
		interceptions.WithLabelValues(outcome, reason).Inc()
	}
}

func IncTermination(mode string) {
	if regOK.Load() {
		terminations.WithLabelValues(mode).Inc()
	}
}

func ObservePrompt(seconds float64) {
	if regOK.Load() {
		promptDuration.Observe(seconds)
	}
}

func AddSurvivors(n int) {
	if regOK.Load() && n > 0 {
		survivors.Add(float64(n))
	}
}

func IncDetection(app string) {
	if regOK.Load() {
		detections.WithLabelValues(app).Inc()
	}
}
