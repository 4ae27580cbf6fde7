package capture

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/scanrelay/scanrelay/internal/detection"
	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/logger"
	"github.com/scanrelay/scanrelay/internal/mqtt"
)

// DetectionMessage is the JSON published by an external decoder.
type DetectionMessage struct {
	Text     string            `json:"text"`
	Format   string            `json:"format,omitempty"`
	Reader   string            `json:"reader,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	At       time.Time         `json:"at,omitzero"`
}

// MQTTEngine receives results from a decoder publishing on a topic. The device
// argument of Start overrides the default topic when it is not "-" or empty.
type MQTTEngine struct {
	kind   detection.EngineKind
	client mqtt.Client
	topic  string
	log    logger.Logger

	mu     sync.Mutex
	active string
	sub    *subscription
}

// subscription tracks handler calls for one Start. The broker client may
// dispatch a message after Unsubscribe returns, so handlers register under
// gate and Stop closes the gate before waiting.
type subscription struct {
	gate    sync.RWMutex
	stopped bool
	pending sync.WaitGroup
	stop    chan struct{}
}

// enter reports whether a handler may run. A true result must be paired with leave.
func (s *subscription) enter() bool {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.stopped {
		return false
	}
	s.pending.Add(1)
	return true
}

func (s *subscription) leave() { s.pending.Done() }

// close rejects new handler calls, releases blocked ones and waits for them.
func (s *subscription) close() {
	s.gate.Lock()
	s.stopped = true
	s.gate.Unlock()
	close(s.stop)
	s.pending.Wait()
}

// NewMQTTEngine creates an engine of kind subscribed through client.
func NewMQTTEngine(kind detection.EngineKind, client mqtt.Client, topic string, log logger.Logger) *MQTTEngine {
	if log == nil {
		log = logger.Global().Module("capture")
	}
	return &MQTTEngine{kind: kind, client: client, topic: topic, log: log}
}

// MQTTFactory returns a Factory producing MQTT engines that share client.
func MQTTFactory(client mqtt.Client, topic string, log logger.Logger) Factory {
	return func(kind detection.EngineKind) (Engine, error) {
		return NewMQTTEngine(kind, client, topic, log), nil
	}
}

// Kind implements Engine.
func (m *MQTTEngine) Kind() detection.EngineKind { return m.kind }

// Start implements Engine.
func (m *MQTTEngine) Start(ctx context.Context, device string, out chan<- detection.RawResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != "" {
		return errors.Newf("mqtt engine already started").
			Component("capture").
			Category(errors.CategoryState).
			Build()
	}

	topic := m.topic
	if device != "" && device != StdinDevice {
		topic = device
	}
	if !m.client.IsConnected() {
		if err := m.client.Connect(ctx); err != nil {
			return err
		}
	}

	sub := &subscription{stop: make(chan struct{})}
	handler := func(_ string, payload []byte) {
		if !sub.enter() {
			return
		}
		defer sub.leave()
		raw, ok := m.decode(payload)
		if !ok {
			return
		}
		select {
		case out <- raw:
		case <-sub.stop:
		}
	}
	if err := m.client.Subscribe(ctx, topic, handler); err != nil {
		return err
	}
	m.active, m.sub = topic, sub
	return nil
}

func (m *MQTTEngine) decode(payload []byte) (detection.RawResult, bool) {
	var msg DetectionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.log.Debug("ignoring malformed detection message", logger.Error(err))
		return detection.RawResult{}, false
	}
	raw := detection.RawResult{
		Engine:   m.kind,
		Text:     msg.Text,
		Format:   msg.Format,
		Metadata: msg.Metadata,
		At:       msg.At,
	}
	if m.kind == detection.Engine1D && msg.Reader != "" {
		raw.Format = msg.Reader
	}
	return raw, true
}

// Stop implements Engine.
func (m *MQTTEngine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.client.Unsubscribe(ctx, m.active)
	m.sub.close()
	m.active, m.sub = "", nil
	return err
}
