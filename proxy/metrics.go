package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the proxy's ambient observability counters (SPEC_FULL.md §3,
// C6). None of them are required for correctness: a Proxy whose Metrics
// field is nil still produces correct 207 responses.
type Metrics struct {
	BatchesTotal         prometheus.Counter
	SubrequestsForwarded prometheus.Counter
	UpstreamFailures     prometheus.Counter
	AssemblyDuration     prometheus.Histogram
}

// NewMetrics registers the proxy's counters against reg. Pass nil to use
// the default global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		BatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "batchhttp_proxy_batches_total",
			Help: "Total number of batch requests accepted by the proxy.",
		}),
		SubrequestsForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "batchhttp_proxy_subrequests_forwarded_total",
			Help: "Total number of inner requests forwarded to the upstream.",
		}),
		UpstreamFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "batchhttp_proxy_upstream_failures_total",
			Help: "Total number of inner requests that failed to reach the upstream.",
		}),
		AssemblyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "batchhttp_proxy_assembly_seconds",
			Help:    "Time spent fanning a batch out to the upstream and reassembling the response.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
