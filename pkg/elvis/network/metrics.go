package network

import "github.com/prometheus/client_golang/prometheus"

// fabricMetrics are the per-network counters the telemetry harness
// (out of core scope, spec §1/§6) scrapes through the Collector the
// core exposes. Kept as plain prometheus counters/gauges rather than
// a custom stats struct, since client_golang is already the metrics
// library this dependency lineage pulls in (see DESIGN.md).
type fabricMetrics struct {
	sent      prometheus.Counter
	dropped   prometheus.Counter
	corrupted prometheus.Counter
	delivered prometheus.Counter
}

func newFabricMetrics(networkName string) *fabricMetrics {
	labels := prometheus.Labels{"network": networkName}
	return &fabricMetrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "elvis_fabric_frames_sent_total",
			Help:        "Frames accepted for delivery by the fabric.",
			ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "elvis_fabric_frames_dropped_total",
			Help:        "Frames dropped due to loss, unknown destination, or unsubscribed group.",
			ConstLabels: labels,
		}),
		corrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "elvis_fabric_frames_corrupted_total",
			Help:        "Frames delivered with the corruption flag set.",
			ConstLabels: labels,
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "elvis_fabric_frames_delivered_total",
			Help:        "Frames handed to a recipient tap's handler.",
			ConstLabels: labels,
		}),
	}
}

// Collectors returns the metrics in a form suitable for registration
// with a prometheus.Registry by the embedding harness.
func (m *fabricMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.sent, m.dropped, m.corrupted, m.delivered}
}
