// Package metrics exposes Prometheus collectors for cratemind components.
//
// All collectors live on a private registry so tests and embedded callers
// never collide with the global default registry. Every recording method is
// nil-safe: components hold a *Metrics that may be nil when metrics are not
// wanted.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cratemind"

// Metrics holds every cratemind collector.
type Metrics struct {
	registry *prometheus.Registry

	itemsIngestedTotal      *prometheus.CounterVec
	signalsSubmittedTotal   *prometheus.CounterVec
	signalsRejectedTotal    *prometheus.CounterVec
	signalsDeduplicated     prometheus.Counter
	resolutionsTotal        *prometheus.CounterVec
	resolveConflictsTotal   prometheus.Counter
	resolveRetriesExhausted prometheus.Counter
	resolveDuration         prometheus.Histogram
	escalationsTotal        prometheus.Counter
	reputationTransitions   *prometheus.CounterVec
	votesScoredTotal        *prometheus.CounterVec
	discoveryRunsTotal      *prometheus.CounterVec
	discoveryEntitiesTotal  *prometheus.CounterVec
	discoveryDuration       prometheus.Histogram
	profileVersion          prometheus.Gauge
	lookupsTotal            *prometheus.CounterVec
}

// New creates and registers collectors on registry. A nil registry gets a
// fresh one.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// NewWithRuntime is New plus Go runtime and process collectors, used by the daemon.
func NewWithRuntime() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(registry)
}

func (m *Metrics) initMetrics() {
	m.itemsIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "items_ingested_total",
		Help:      "Fingerprint ingest calls by outcome",
	}, []string{"outcome"}) // new, existing, duplicate
	m.signalsSubmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_submitted_total",
		Help:      "Accepted classification signals by source type",
	}, []string{"source_type"})
	m.signalsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_rejected_total",
		Help:      "Signals rejected at the ingestion boundary by reason",
	}, []string{"reason"})
	m.signalsDeduplicated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_deduplicated_total",
		Help:      "Resubmitted signals absorbed by the content-addressed key",
	})
	m.resolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolutions_total",
		Help:      "Consensus recomputes by resulting status",
	}, []string{"status"})
	m.resolveConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolve_conflicts_total",
		Help:      "Optimistic version conflicts during consensus recompute",
	})
	m.resolveRetriesExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolve_retries_exhausted_total",
		Help:      "Recomputes that gave up after the retry budget",
	})
	m.resolveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "resolve_duration_seconds",
		Help:      "Time to load, compute and persist one classification",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	m.escalationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escalations_total",
		Help:      "Items escalated to human review",
	})
	m.reputationTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reputation_transitions_total",
		Help:      "Penalty state transitions by destination state",
	}, []string{"to"})
	m.votesScoredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "votes_scored_total",
		Help:      "Votes scored against stabilized consensus",
	}, []string{"correct"})
	m.discoveryRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "discovery_runs_total",
		Help:      "Pattern discovery runs by outcome",
	}, []string{"outcome"}) // completed, cancelled, failed, locked
	m.discoveryEntitiesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "discovery_entities_total",
		Help:      "Entities processed by pattern discovery by result",
	}, []string{"result"}) // profiled, discarded, insufficient, skipped
	m.discoveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "discovery_duration_seconds",
		Help:      "Wall time of pattern discovery runs",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})
	m.profileVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "profile_version",
		Help:      "Currently published entity profile version",
	})
	m.lookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lookups_total",
		Help:      "Consumer classification lookups by outcome",
	}, []string{"outcome"}) // resolved, error or the unresolved reason
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.itemsIngestedTotal,
		m.signalsSubmittedTotal,
		m.signalsRejectedTotal,
		m.signalsDeduplicated,
		m.resolutionsTotal,
		m.resolveConflictsTotal,
		m.resolveRetriesExhausted,
		m.resolveDuration,
		m.escalationsTotal,
		m.reputationTransitions,
		m.votesScoredTotal,
		m.discoveryRunsTotal,
		m.discoveryEntitiesTotal,
		m.discoveryDuration,
		m.profileVersion,
		m.lookupsTotal,
	}
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordIngest(outcome string) {
	if m == nil {
		return
	}
	m.itemsIngestedTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordSignalSubmitted(sourceType string) {
	if m == nil {
		return
	}
	m.signalsSubmittedTotal.WithLabelValues(sourceType).Inc()
}

func (m *Metrics) RecordSignalRejected(reason string) {
	if m == nil {
		return
	}
	m.signalsRejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordSignalDeduplicated() {
	if m == nil {
		return
	}
	m.signalsDeduplicated.Inc()
}

// RecordResolution records one persisted recompute and how long it took.
func (m *Metrics) RecordResolution(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(status).Inc()
	m.resolveDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordResolveConflict() {
	if m == nil {
		return
	}
	m.resolveConflictsTotal.Inc()
}

func (m *Metrics) RecordResolveExhausted() {
	if m == nil {
		return
	}
	m.resolveRetriesExhausted.Inc()
}

func (m *Metrics) RecordEscalation() {
	if m == nil {
		return
	}
	m.escalationsTotal.Inc()
}

func (m *Metrics) RecordReputationTransition(to string) {
	if m == nil {
		return
	}
	m.reputationTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) RecordVoteScored(correct bool) {
	if m == nil {
		return
	}
	label := "false"
	if correct {
		label = "true"
	}
	m.votesScoredTotal.WithLabelValues(label).Inc()
}

// RecordDiscoveryRun records a finished (or refused) discovery run.
func (m *Metrics) RecordDiscoveryRun(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.discoveryRunsTotal.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.discoveryDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) RecordDiscoveryEntity(result string) {
	if m == nil {
		return
	}
	m.discoveryEntitiesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetProfileVersion(version int64) {
	if m == nil {
		return
	}
	m.profileVersion.Set(float64(version))
}

func (m *Metrics) RecordLookup(outcome string) {
	if m == nil {
		return
	}
	m.lookupsTotal.WithLabelValues(outcome).Inc()
}
