// Package mqtt wraps the paho client used to ingest detections from external
// decoders and to publish pipeline status.
package mqtt

import (
	"context"
	"time"

	"github.com/scanrelay/scanrelay/internal/conf"
)

// MessageHandler receives messages for a subscription.
type MessageHandler func(topic string, payload []byte)

// Client defines the MQTT operations the pipeline relies on.
type Client interface {
	// Connect attempts to connect to the broker.
	Connect(ctx context.Context) error

	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for topic. Subscriptions are restored after reconnects.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error

	// Unsubscribe removes the subscription for topic.
	Unsubscribe(ctx context.Context, topic string) error

	// IsConnected returns true if the client is connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection to the broker.
	Disconnect()
}

// Recorder receives connection metrics.
type Recorder interface {
	UpdateConnectionStatus(connected bool)
	IncrementMessagesDelivered()
	IncrementMessagesReceived()
	IncrementErrors()
}

type noopRecorder struct{}

func (noopRecorder) UpdateConnectionStatus(bool) {}
func (noopRecorder) IncrementMessagesDelivered() {}
func (noopRecorder) IncrementMessagesReceived()  {}
func (noopRecorder) IncrementErrors()            {}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ClientID:          "scanrelay",
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings builds a Config from the mqtt settings section.
func ConfigFromSettings(s *conf.MQTTSettings) Config {
	cfg := DefaultConfig()
	cfg.Broker = s.Broker
	if s.ClientID != "" {
		cfg.ClientID = s.ClientID
	}
	cfg.Username = s.Username
	cfg.Password = s.Password
	return cfg
}
