// Package metrics defines the Prometheus collectors for a Hivemind instance.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics groups the Prometheus collectors tracked by a Hivemind instance:
// hot-cache traffic, store operations, garbage collection, consolidation,
// proposal lifecycle, and agent behaviour. Collectors are registered on a
// private registry so that multiple instances can coexist in one process.
//
// All recording methods are safe to call on a nil receiver, so components can
// run unmetered.
type Metrics struct {
	registry *prometheus.Registry

	// CacheOps counts hot-cache lookups.
	// Labels: result (hit|miss)
	CacheOps *prometheus.CounterVec

	// CacheEvictions counts entries leaving the hot cache.
	// Labels: reason (capacity|idle|expired)
	CacheEvictions *prometheus.CounterVec

	// StoreOps counts coordinator operations.
	// Labels: op (store|retrieve|delete|search|consolidate), status (ok|error|not_found|rejected)
	StoreOps *prometheus.CounterVec

	// EntriesStored counts committed writes by memory type.
	// Labels: type
	EntriesStored *prometheus.CounterVec

	// PayloadBytes observes raw payload sizes of committed writes.
	// Labels: type
	// Buckets: 64B to 1MiB, powers of 4
	PayloadBytes *prometheus.HistogramVec

	// GCRemoved counts entries removed by the expiry sweep.
	// Labels: type
	GCRemoved *prometheus.CounterVec

	// ConsolidationMerged counts source entries folded into merged entries.
	ConsolidationMerged prometheus.Counter

	// Proposals counts proposal lifecycle transitions.
	// Labels: status (created|finalized|expired)
	Proposals *prometheus.CounterVec

	// Votes counts vote submissions.
	// Labels: status (accepted|rejected)
	Votes *prometheus.CounterVec

	// ByzantineFlags counts behavioural flags by kind.
	// Labels: kind (vote_flipping|confidence_mismatch|contrarian_pattern)
	ByzantineFlags *prometheus.CounterVec

	// Quarantines counts agents placed in quarantine.
	Quarantines prometheus.Counter

	// OpenProposals tracks the number of currently open proposals.
	OpenProposals prometheus.Gauge

	// AgentsOnline tracks the number of online agents.
	AgentsOnline prometheus.Gauge
}

// NewMetrics creates all collectors on a fresh private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		CacheOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hivemind_cache_ops_total",
				Help: "Total number of hot-cache lookups by result",
			},
			[]string{"result"},
		),

		CacheEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hivemind_cache_evictions_total",
				Help: "Total number of hot-cache evictions by reason",
			},
			[]string{"reason"},
		),

		StoreOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hivemind_store_ops_total",
				Help: "Total number of coordinator operations by op and status",
			},
			[]string{"op", "status"},
		),

		EntriesStored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hivemind_entries_stored_total",
				Help: "Total number of committed memory writes by type",
			},
			[]string{"type"},
		),

		PayloadBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hivemind_payload_bytes",
				Help:    "Raw payload sizes of committed memory writes",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"type"},
		),

		GCRemoved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hivemind_gc_removed_total",
				Help: "Total number of expired entries removed by type",
			},
			[]string{"type"},
		),

		ConsolidationMerged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hivemind_consolidation_merged_total",
				Help: "Total number of source entries folded by consolidation",
			},
		),

		Proposals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hivemind_proposals_total",
				Help: "Total number of proposal lifecycle transitions by status",
			},
			[]string{"status"},
		),

		Votes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hivemind_votes_total",
				Help: "Total number of vote submissions by status",
			},
			[]string{"status"},
		),

		ByzantineFlags: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hivemind_byzantine_flags_total",
				Help: "Total number of behavioural flags by kind",
			},
			[]string{"kind"},
		),

		Quarantines: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hivemind_quarantines_total",
				Help: "Total number of agents placed in quarantine",
			},
		),

		OpenProposals: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "hivemind_open_proposals",
				Help: "Current number of open proposals",
			},
		),

		AgentsOnline: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "hivemind_agents_online",
				Help: "Current number of online agents",
			},
		),
	}
}

// Registry exposes the private registry, for mounting the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Snapshot gathers all collectors into a flat name-to-value map. Labelled
// metrics are summed across label combinations; histograms contribute their
// _count and _sum series.
func (m *Metrics) Snapshot() (map[string]float64, error) {
	snapshot := map[string]float64{}

	if m == nil {
		return snapshot, nil
	}

	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	for _, family := range families {
		for _, metric := range family.Metric {
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				snapshot[family.GetName()] += metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				snapshot[family.GetName()] += metric.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				snapshot[family.GetName()+"_count"] += float64(metric.GetHistogram().GetSampleCount())
				snapshot[family.GetName()+"_sum"] += metric.GetHistogram().GetSampleSum()
			}
		}
	}

	return snapshot, nil
}

// CacheHit records a hot-cache hit.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheOps.WithLabelValues("hit").Inc()
}

// CacheMiss records a hot-cache miss.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheOps.WithLabelValues("miss").Inc()
}

// CacheEvicted records cache evictions with the given reason.
func (m *Metrics) CacheEvicted(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheEvictions.WithLabelValues(reason).Add(float64(n))
}

// RecordOp records a coordinator operation and its outcome.
func (m *Metrics) RecordOp(op, status string) {
	if m == nil {
		return
	}
	m.StoreOps.WithLabelValues(op, status).Inc()
}

// RecordWrite records a committed memory write.
func (m *Metrics) RecordWrite(memoryType string, rawBytes int) {
	if m == nil {
		return
	}
	m.EntriesStored.WithLabelValues(memoryType).Inc()
	m.PayloadBytes.WithLabelValues(memoryType).Observe(float64(rawBytes))
}

// RecordGC records entries removed by the expiry sweep.
func (m *Metrics) RecordGC(memoryType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.GCRemoved.WithLabelValues(memoryType).Add(float64(n))
}

// RecordConsolidation records source entries folded by a consolidation pass.
func (m *Metrics) RecordConsolidation(merged int) {
	if m == nil || merged <= 0 {
		return
	}
	m.ConsolidationMerged.Add(float64(merged))
}

// RecordProposal records a proposal lifecycle transition and keeps the open
// proposal gauge current.
func (m *Metrics) RecordProposal(status string) {
	if m == nil {
		return
	}
	m.Proposals.WithLabelValues(status).Inc()
	switch status {
	case "created":
		m.OpenProposals.Inc()
	case "finalized", "expired":
		m.OpenProposals.Dec()
	}
}

// RecordVote records a vote submission.
func (m *Metrics) RecordVote(status string) {
	if m == nil {
		return
	}
	m.Votes.WithLabelValues(status).Inc()
}

// RecordFlag records a behavioural flag.
func (m *Metrics) RecordFlag(kind string) {
	if m == nil {
		return
	}
	m.ByzantineFlags.WithLabelValues(kind).Inc()
}

// RecordQuarantine records an agent entering quarantine.
func (m *Metrics) RecordQuarantine() {
	if m == nil {
		return
	}
	m.Quarantines.Inc()
}

// SetAgentsOnline updates the online agent gauge.
func (m *Metrics) SetAgentsOnline(n int) {
	if m == nil {
		return
	}
	m.AgentsOnline.Set(float64(n))
}
