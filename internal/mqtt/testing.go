package mqtt

import (
	"context"
	"sync"

	"github.com/scanrelay/scanrelay/internal/errors"
)

// Loopback is an in-process Client: published messages are delivered to local
// subscribers of the same topic. It backs tests and broker-less runs.
type Loopback struct {
	mu        sync.Mutex
	connected bool
	subs      map[string]MessageHandler
	published []Message
}

// Message is a message recorded by Loopback.
type Message struct {
	Topic   string
	Payload []byte
}

// NewLoopback creates a disconnected Loopback client.
func NewLoopback() *Loopback {
	return &Loopback{subs: make(map[string]MessageHandler)}
}

func (l *Loopback) Connect(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = true
	return nil
}

func (l *Loopback) Publish(_ context.Context, topic string, payload []byte) error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return errors.NewStd("not connected to MQTT broker")
	}
	l.published = append(l.published, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	h := l.subs[topic]
	l.mu.Unlock()

	if h != nil {
		h(topic, payload)
	}
	return nil
}

func (l *Loopback) Subscribe(_ context.Context, topic string, handler MessageHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs[topic] = handler
	return nil
}

func (l *Loopback) Unsubscribe(_ context.Context, topic string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs, topic)
	return nil
}

func (l *Loopback) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *Loopback) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
}

// Published returns the messages published so far.
func (l *Loopback) Published() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.published...)
}

// Subscribed reports whether topic has a subscriber.
func (l *Loopback) Subscribed(topic string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.subs[topic]
	return ok
}
