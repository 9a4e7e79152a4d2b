// Package metrics exports gameNet endpoint statistics as Prometheus
// metrics, grounded on the teacher's internal/gateway/metrics.go
// promauto construction pattern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for one gameNet endpoint.
type Metrics struct {
	FramesSent     *prometheus.CounterVec
	FramesReceived *prometheus.CounterVec
	BytesSent      *prometheus.CounterVec
	BytesReceived  *prometheus.CounterVec

	Retransmits    prometheus.Counter
	Abandoned      prometheus.Counter
	SkipEvents     prometheus.Counter
	PendingDropped prometheus.Counter

	InflightCount prometheus.Gauge
	PendingDepth  prometheus.Gauge
	BufferedDepth prometheus.Gauge
	DeliveryDepth prometheus.Gauge

	RTOMs  prometheus.Gauge
	SRTTMs prometheus.Gauge
}

// New creates a Metrics instance under the given namespace (typically
// "gamenet") and registers its collectors with registerer.
func New(namespace string, registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total frames emitted, by channel.",
		}, []string{"channel"}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total frames received, by channel.",
		}, []string{"channel"}),
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total payload bytes emitted, by channel.",
		}, []string{"channel"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total payload bytes received, by channel.",
		}, []string{"channel"}),
		Retransmits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retransmits_total",
			Help:      "Total reliable-channel retransmissions.",
		}),
		Abandoned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abandoned_total",
			Help:      "Total reliable sequences abandoned after MAX_RETRIES.",
		}),
		SkipEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skip_events_total",
			Help:      "Total skip-deadline advances past a missing sequence.",
		}),
		PendingDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_queue_dropped_total",
			Help:      "Total sends rejected by a full, capped pending queue.",
		}),
		InflightCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_packets",
			Help:      "Current unacknowledged reliable packets in the send buffer.",
		}),
		PendingDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_queue_depth",
			Help:      "Current depth of the pending send queue.",
		}),
		BufferedDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reorder_buffer_depth",
			Help:      "Current depth of the receive reorder buffer.",
		}),
		DeliveryDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delivery_queue_depth",
			Help:      "Current depth of the application delivery queue.",
		}),
		RTOMs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rto_milliseconds",
			Help:      "Current retransmission timeout estimate, in milliseconds.",
		}),
		SRTTMs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "srtt_milliseconds",
			Help:      "Current smoothed RTT estimate, in milliseconds.",
		}),
	}
}
