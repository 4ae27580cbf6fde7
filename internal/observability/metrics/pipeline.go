package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Status values exported by the status gauge, in indicator order.
var statusValues = map[string]float64{
	"idle":         0,
	"sending":      1,
	"delivered":    2,
	"queued":       3,
	"syncing":      4,
	"synced":       5,
	"queue-empty":  6,
	"engine-error": 7,
}

// PipelineMetrics covers detection, delivery, drain, queue and stats activity.
type PipelineMetrics struct {
	Detections       *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	DrainSends       *prometheus.CounterVec
	QueueSize        prometheus.Gauge
	Status           prometheus.Gauge
	StatsFetches     *prometheus.CounterVec
}

// NewPipelineMetrics creates pipeline metrics and registers them with registry.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanrelay_detections_total",
			Help: "Raw engine results by gate result (accepted, suppressed, unparseable)",
		}, []string{"result"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanrelay_delivery_attempts_total",
			Help: "Delivery attempts by transport and result",
		}, []string{"transport", "result"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanrelay_delivery_duration_seconds",
			Help:    "Duration of delivery attempts by transport",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"transport"}),
		DrainSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanrelay_drain_sends_total",
			Help: "Queue drain sends by result",
		}, []string{"result"}),
		QueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanrelay_queue_size",
			Help: "Number of records waiting in the durable queue",
		}),
		Status: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanrelay_status",
			Help: "Last status indicator transition (0 idle, 1 sending, 2 delivered, 3 queued, 4 syncing, 5 synced, 6 queue-empty, 7 engine-error)",
		}),
		StatsFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanrelay_stats_fetches_total",
			Help: "Stats queries by result (success, no_update, failure)",
		}, []string{"result"}),
	}
	collectors := []prometheus.Collector{
		m.Detections, m.Deliveries, m.DeliveryDuration, m.DrainSends,
		m.QueueSize, m.Status, m.StatsFetches,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
		}
	}
	return m, nil
}

// RecordDetection counts a raw result by gate result.
func (m *PipelineMetrics) RecordDetection(result string) {
	m.Detections.WithLabelValues(result).Inc()
}

// RecordDelivery counts a transport attempt and observes its duration.
func (m *PipelineMetrics) RecordDelivery(transport, result string, seconds float64) {
	m.Deliveries.WithLabelValues(transport, result).Inc()
	m.DeliveryDuration.WithLabelValues(transport).Observe(seconds)
}

// RecordDrainSend counts a drain send.
func (m *PipelineMetrics) RecordDrainSend(result string) {
	m.DrainSends.WithLabelValues(result).Inc()
}

// SetQueueSize updates the queue gauge.
func (m *PipelineMetrics) SetQueueSize(n int) {
	m.QueueSize.Set(float64(n))
}

// SetStatus exports the indicator state. Unknown states are ignored.
func (m *PipelineMetrics) SetStatus(status string) {
	if v, ok := statusValues[status]; ok {
		m.Status.Set(v)
	}
}

// RecordStatsFetch counts a stats query by result.
func (m *PipelineMetrics) RecordStatsFetch(result string) {
	m.StatsFetches.WithLabelValues(result).Inc()
}
