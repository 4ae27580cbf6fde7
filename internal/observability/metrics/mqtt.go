// Package metrics provides the Prometheus collectors of scanrelay components.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains all Prometheus metrics related to MQTT operations.
type MQTTMetrics struct {
	ConnectionStatus  prometheus.Gauge
	MessagesDelivered prometheus.Counter
	MessagesReceived  prometheus.Counter
	Errors            prometheus.Counter
	LastConnectTime   prometheus.Gauge
}

// NewMQTTMetrics creates MQTT metrics and registers them with registry.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		ConnectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanrelay_mqtt_connection_status",
			Help: "Current MQTT connection status (1 for connected, 0 for disconnected)",
		}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanrelay_mqtt_messages_delivered_total",
			Help: "Total number of MQTT messages successfully published",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanrelay_mqtt_messages_received_total",
			Help: "Total number of MQTT messages received on subscribed topics",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanrelay_mqtt_errors_total",
			Help: "Total number of MQTT errors encountered",
		}),
		LastConnectTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanrelay_mqtt_last_connect_time_seconds",
			Help: "Timestamp of the last successful MQTT connection",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

// UpdateConnectionStatus updates the connection gauge and last connect time.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.ConnectionStatus.Set(1)
		m.LastConnectTime.SetToCurrentTime()
	} else {
		m.ConnectionStatus.Set(0)
	}
}

func (m *MQTTMetrics) IncrementMessagesDelivered() { m.MessagesDelivered.Inc() }
func (m *MQTTMetrics) IncrementMessagesReceived()  { m.MessagesReceived.Inc() }
func (m *MQTTMetrics) IncrementErrors()            { m.Errors.Inc() }

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.ConnectionStatus
	ch <- m.MessagesDelivered
	ch <- m.MessagesReceived
	ch <- m.Errors
	ch <- m.LastConnectTime
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.ConnectionStatus.Desc()
	ch <- m.MessagesDelivered.Desc()
	ch <- m.MessagesReceived.Desc()
	ch <- m.Errors.Desc()
	ch <- m.LastConnectTime.Desc()
}
