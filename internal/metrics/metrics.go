// Package metrics exposes prometheus collectors for one dashboard session.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "treeherd"

// Label values for selection outcomes
const (
	OutcomeLocal    = "local"
	OutcomeOutside  = "outside_range"
	OutcomeNotFound = "not_found"
	OutcomeCleared  = "cleared"
)

var fetchBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics holds the collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pollTicks     prometheus.Counter
	pollFailures  prometheus.Counter
	pushesMerged  prometheus.Counter
	jobsMerged    prometheus.Counter
	notifications *prometheus.CounterVec
	selections    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	pushesLoaded  prometheus.Gauge
	jobsLoaded    prometheus.Gauge
	unclassified  *prometheus.GaugeVec
}

// New registers every collector on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pollTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Number of polling ticks run.",
		}),
		pollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Number of polling ticks whose fetch failed.",
		}),
		pushesMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_merged_total",
			Help:      "Number of new pushes merged into the push list.",
		}),
		jobsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_merged_total",
			Help:      "Number of job records written into the job index.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications sent to the user.",
		}, []string{"severity"}),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selection_resolutions_total",
			Help:      "Selection token resolutions by outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_fetch_duration_seconds",
			Help:      "How long backend fetches take.",
			Buckets:   fetchBuckets,
		}, []string{"op", "status"}),
		pushesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pushes_loaded",
			Help:      "Pushes currently loaded.",
		}),
		jobsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_loaded",
			Help:      "Jobs currently in the job index.",
		}),
		unclassified: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unclassified_failures",
			Help:      "Unclassified failures in enabled tiers.",
		}, []string{"scope"}),
	}

	m.registry.MustRegister(
		m.pollTicks,
		m.pollFailures,
		m.pushesMerged,
		m.jobsMerged,
		m.notifications,
		m.selections,
		m.fetchDuration,
		m.pushesLoaded,
		m.jobsLoaded,
		m.unclassified,
	)
	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PollTick() {
	if m == nil {
		return
	}
	m.pollTicks.Inc()
}

func (m *Metrics) PollFailure() {
	if m == nil {
		return
	}
	m.pollFailures.Inc()
}

func (m *Metrics) PushesMerged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pushesMerged.Add(float64(n))
}

func (m *Metrics) JobsMerged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.jobsMerged.Add(float64(n))
}

func (m *Metrics) Notification(severity string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(severity).Inc()
}

func (m *Metrics) Selection(outcome string) {
	if m == nil {
		return
	}
	m.selections.WithLabelValues(outcome).Inc()
}

// ObserveFetch records one backend fetch
func (m *Metrics) ObserveFetch(op string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.fetchDuration.WithLabelValues(op, status).Observe(seconds)
}

// SetLoaded updates the loaded pushes and jobs gauges
func (m *Metrics) SetLoaded(pushes, jobs int) {
	if m == nil {
		return
	}
	m.pushesLoaded.Set(float64(pushes))
	m.jobsLoaded.Set(float64(jobs))
}

// SetUnclassified updates the unclassified failure gauges
func (m *Metrics) SetUnclassified(all, filtered int) {
	if m == nil {
		return
	}
	m.unclassified.WithLabelValues("all").Set(float64(all))
	m.unclassified.WithLabelValues("filtered").Set(float64(filtered))
}
