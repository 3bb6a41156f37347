package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ActiveConnections  prometheus.Gauge
	ChatRequests       *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	RankDuration       prometheus.Histogram
	DocumentUploads    *prometheus.CounterVec
	DocumentFragments  prometheus.Gauge
	DroppedMessages    prometheus.Counter
}

// New registers the collectors with reg. Each registry may only be used
// once.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "doctalk_ws_connections",
				Help: "Number of open WebSocket connections",
			},
		),
		ChatRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doctalk_chat_requests_total",
				Help: "Total number of chat requests by outcome",
			},
			[]string{"status"},
		),
		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "doctalk_generation_duration_seconds",
				Help:    "Time from chat request to terminal event",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),
		RankDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "doctalk_rank_duration_seconds",
				Help:    "Fragment ranking duration in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		DocumentUploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doctalk_document_uploads_total",
				Help: "Total number of document uploads",
			},
			[]string{"kind", "status"},
		),
		DocumentFragments: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "doctalk_document_fragments",
				Help: "Fragments in the current document",
			},
		),
		DroppedMessages: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "doctalk_ws_dropped_messages_total",
				Help: "Messages dropped because a connection queue was full",
			},
		),
	}
}

// NewNop returns collectors bound to a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
