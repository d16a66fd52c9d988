// Package metrics exposes Prometheus counters and gauges for the history,
// proxy, and flow-control subsystems, grounded on the pack's own use of
// github.com/prometheus/client_golang for operational visibility.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every counter/gauge this module exports, constructed
// once per process. The reader, writer and participant types do not take a
// Registry; recording against it is done by the code that owns one.
type Registry struct {
	SamplesAdmitted  *prometheus.CounterVec
	SamplesRejected  *prometheus.CounterVec
	SamplesEvicted   *prometheus.CounterVec
	HistoryDepth     *prometheus.GaugeVec
	MatchedEndpoints *prometheus.GaugeVec
	AckNacksSent     prometheus.Counter
	HeartbeatsSent   prometheus.Counter
	GapsSent         prometheus.Counter
	LivelinessLost   *prometheus.CounterVec
}

// NewRegistry constructs and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		SamplesAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtpscore",
			Name:      "samples_admitted_total",
			Help:      "Samples accepted into a reader history, by topic.",
		}, []string{"topic"}),
		SamplesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtpscore",
			Name:      "samples_rejected_total",
			Help:      "Samples rejected by history admission, by topic and reason.",
		}, []string{"topic", "reason"}),
		SamplesEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtpscore",
			Name:      "samples_evicted_total",
			Help:      "Samples evicted under KEEP_LAST, by topic.",
		}, []string{"topic"}),
		HistoryDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rtpscore",
			Name:      "history_depth",
			Help:      "Current number of samples held, by topic and endpoint kind.",
		}, []string{"topic", "endpoint_kind"}),
		MatchedEndpoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rtpscore",
			Name:      "matched_endpoints",
			Help:      "Currently matched remote endpoints, by topic.",
		}, []string{"topic"}),
		AckNacksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpscore",
			Name:      "acknacks_sent_total",
			Help:      "ACKNACK submessages sent by matched readers.",
		}),
		HeartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpscore",
			Name:      "heartbeats_sent_total",
			Help:      "HEARTBEAT submessages sent by matched writers.",
		}),
		GapsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtpscore",
			Name:      "gaps_sent_total",
			Help:      "GAP submessages sent on KEEP_LAST eviction or stale NACK.",
		}),
		LivelinessLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtpscore",
			Name:      "liveliness_lost_total",
			Help:      "Matched-peer liveliness lease expirations, by topic.",
		}, []string{"topic"}),
	}

	reg.MustRegister(
		m.SamplesAdmitted,
		m.SamplesRejected,
		m.SamplesEvicted,
		m.HistoryDepth,
		m.MatchedEndpoints,
		m.AckNacksSent,
		m.HeartbeatsSent,
		m.GapsSent,
		m.LivelinessLost,
	)
	return m
}
