package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/logger"
)

// client implements the Client interface on top of paho.
type client struct {
	config         Config
	internalClient paho.Client
	mu             sync.Mutex
	subscriptions  map[string]MessageHandler
	metrics        Recorder
	log            logger.Logger
}

// NewClient creates a client. Nothing connects until Connect is called.
func NewClient(cfg Config, metrics Recorder, log logger.Logger) Client {
	if metrics == nil {
		metrics = noopRecorder{}
	}
	if log == nil {
		log = logger.Global().Module("mqtt")
	}
	return &client{
		config:        cfg,
		subscriptions: make(map[string]MessageHandler),
		metrics:       metrics,
		log:           log,
	}
}

func (c *client) wrap(err error, op string) error {
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryMQTT).
		Context("operation", op).
		Context("broker", c.config.Broker).
		Build()
}

// Connect resolves the broker host first so DNS failures surface quickly.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := url.Parse(c.config.Broker)
	if err != nil || u.Host == "" {
		return errors.Newf("invalid broker URL %q", c.config.Broker).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return c.wrap(err, "resolve")
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internalClient = paho.NewClient(opts)

	token := c.internalClient.Connect()
	if !waitToken(ctx, token, c.config.ConnectTimeout) {
		return c.wrap(errors.NewStd("connection timeout"), "connect")
	}
	if err := token.Error(); err != nil {
		c.metrics.IncrementErrors()
		return c.wrap(err, "connect")
	}

	c.metrics.UpdateConnectionStatus(true)
	c.log.Info("connected to MQTT broker", logger.String("broker", c.config.Broker))
	return nil
}

// waitToken waits for token, ctx or timeout, whichever comes first.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}

// Publish sends payload to topic with QoS 0.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected() {
		return c.wrap(errors.NewStd("not connected to MQTT broker"), "publish")
	}

	token := c.internalClient.Publish(topic, 0, false, payload)
	if !waitToken(ctx, token, c.config.PublishTimeout) {
		c.metrics.IncrementErrors()
		return c.wrap(errors.NewStd("publish timeout"), "publish")
	}
	if err := token.Error(); err != nil {
		c.metrics.IncrementErrors()
		return c.wrap(err, "publish")
	}
	c.metrics.IncrementMessagesDelivered()
	return nil
}

// Subscribe registers handler for topic.
func (c *client) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscriptions[topic] = handler
	if !c.isConnected() {
		// onConnect subscribes once the connection is up.
		return nil
	}
	return c.subscribe(ctx, topic, handler)
}

func (c *client) subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	token := c.internalClient.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		c.metrics.IncrementMessagesReceived()
		handler(msg.Topic(), msg.Payload())
	})
	if !waitToken(ctx, token, c.config.PublishTimeout) {
		return c.wrap(errors.NewStd("subscribe timeout"), "subscribe")
	}
	if err := token.Error(); err != nil {
		c.metrics.IncrementErrors()
		return c.wrap(err, "subscribe")
	}
	c.log.Debug("subscribed", logger.String("topic", topic))
	return nil
}

// Unsubscribe removes the subscription for topic.
func (c *client) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.subscriptions, topic)
	if !c.isConnected() {
		return nil
	}
	token := c.internalClient.Unsubscribe(topic)
	if !waitToken(ctx, token, c.config.PublishTimeout) {
		return c.wrap(errors.NewStd("unsubscribe timeout"), "unsubscribe")
	}
	return token.Error()
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected()
}

func (c *client) isConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.metrics.UpdateConnectionStatus(false)
	}
}

// onConnect restores subscriptions; paho calls it after every (re)connect.
func (c *client) onConnect(paho.Client) {
	c.metrics.UpdateConnectionStatus(true)

	c.mu.Lock()
	subs := make(map[string]MessageHandler, len(c.subscriptions))
	for t, h := range c.subscriptions {
		subs[t] = h
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
	defer cancel()
	for topic, h := range subs {
		if err := c.subscribe(ctx, topic, h); err != nil {
			c.log.Warn("failed to restore subscription", logger.String("topic", topic), logger.Error(err))
		}
	}
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to MQTT broker lost", logger.String("broker", c.config.Broker), logger.Error(err))
	c.metrics.UpdateConnectionStatus(false)
	c.metrics.IncrementErrors()
}
