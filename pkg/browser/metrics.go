package browser

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "browserd",
		Name:      "sessions_active",
		Help:      "Number of live browser sessions.",
	})
	metricSessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "browserd",
		Name:      "sessions_created_total",
		Help:      "Browser sessions provisioned.",
	})
	metricSessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "browserd",
		Name:      "sessions_closed_total",
		Help:      "Browser sessions closed, by reason.",
	}, []string{"reason"})
	metricLaunchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "browserd",
		Name:      "launch_failures_total",
		Help:      "Browser process launches that failed.",
	})
	metricActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "browserd",
		Name:      "actions_total",
		Help:      "Actions dispatched, by kind and outcome.",
	}, []string{"action", "outcome"})
	metricActionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "browserd",
		Name:      "action_duration_seconds",
		Help:      "Wall time of dispatched actions, including lock wait.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"action"})
	metricReaperSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "browserd",
		Name:      "reaper_skipped_busy_total",
		Help:      "Idle sessions the reaper left alone because an action held the lock.",
	})
)

// Close reasons recorded on sessions_closed_total.
const (
	closeReasonExplicit = "explicit"
	closeReasonIdle     = "idle"
	closeReasonCrashed  = "crashed"
	closeReasonHung     = "hung"
	closeReasonShutdown = "shutdown"
)

func observeAction(env Envelope, elapsed time.Duration) {
	metricActions.WithLabelValues(string(env.Action), env.Outcome()).Inc()
	metricActionDuration.WithLabelValues(string(env.Action)).Observe(elapsed.Seconds())
}
