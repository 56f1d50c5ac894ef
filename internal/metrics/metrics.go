package metrics

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	trackedUptime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "apptrack",
			Subsystem: "tracker",
			Name:      "uptime_seconds",
			Help:      "Cumulative tracked uptime per process.",
		}, []string{"process"},
	)
	trackedRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "apptrack",
			Subsystem: "tracker",
			Name:      "running",
			Help:      "Whether the tracked process is currently observed running (1) or paused (0).",
		}, []string{"process"},
	)
	activeTrackers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "apptrack",
			Subsystem: "tracker",
			Name:      "active",
			Help:      "Number of live tracker goroutines.",
		},
	)
	badgesAwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apptrack",
			Subsystem: "tracker",
			Name:      "badges_awarded_total",
			Help:      "Number of badges newly added to a track log.",
		}, []string{"rank"},
	)
	dispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apptrack",
			Subsystem: "store",
			Name:      "actions_total",
			Help:      "Number of actions applied by the state reducer.",
		}, []string{"action"},
	)
	persistErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apptrack",
			Subsystem: "store",
			Name:      "persist_errors_total",
			Help:      "Number of failed writes to the stats file.",
		}, []string{"op"},
	)
	resumes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "apptrack",
			Subsystem: "supervisor",
			Name:      "resumes_total",
			Help:      "Number of paused trackers resumed after their process restarted.",
		},
	)
	enumerateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "apptrack",
			Subsystem: "supervisor",
			Name:      "enumerate_duration_seconds",
			Help:      "Time spent reading the OS process table.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{trackedUptime, trackedRunning, activeTrackers, badgesAwarded, dispatched, persistErrors, resumes, enumerateDuration}
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

// WriteTextfile writes everything g gathers to path in the text exposition
// format, for node_exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}

// Helpers below no-op until Register has succeeded.

func SetUptime(process string, seconds uint64) {
	if regOK.Load() {
		trackedUptime.WithLabelValues(process).Set(float64(seconds))
	}
}

func SetRunning(process string, running bool) {
	if regOK.Load() {
		v := 0.0
		if running {
			v = 1
		}
		trackedRunning.WithLabelValues(process).Set(v)
	}
}

// Forget drops the per-process series of a deleted app.
func Forget(process string) {
	if regOK.Load() {
		trackedUptime.DeleteLabelValues(process)
		trackedRunning.DeleteLabelValues(process)
	}
}

func TrackerStarted() {
	if regOK.Load() {
		activeTrackers.Inc()
	}
}

func TrackerStopped() {
	if regOK.Load() {
		activeTrackers.Dec()
	}
}

func IncBadge(rank string) {
	if regOK.Load() {
		badgesAwarded.WithLabelValues(rank).Inc()
	}
}

func IncAction(action string) {
	if regOK.Load() {
		dispatched.WithLabelValues(action).Inc()
	}
}

func IncPersistError(op string) {
	if regOK.Load() {
		persistErrors.WithLabelValues(op).Inc()
	}
}

func IncResume() {
	if regOK.Load() {
		resumes.Inc()
	}
}

func ObserveEnumerate(seconds float64) {
	if regOK.Load() {
		enumerateDuration.Observe(seconds)
	}
}
