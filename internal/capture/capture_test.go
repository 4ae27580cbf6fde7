package capture

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/scanrelay/scanrelay/internal/detection"
	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/logger"
	"github.com/scanrelay/scanrelay/internal/mqtt"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// pipes hands out one io.Pipe per opened device so tests can feed lines.
type pipes struct {
	mu      sync.Mutex
	writers map[string]*io.PipeWriter
	opened  []string
}

func newPipes() *pipes { return &pipes{writers: map[string]*io.PipeWriter{}} }

func (p *pipes) open(device string) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, w := io.Pipe()
	p.writers[device] = w
	p.opened = append(p.opened, device)
	return r, nil
}

func (p *pipes) write(t *testing.T, device, s string) {
	t.Helper()
	p.mu.Lock()
	w := p.writers[device]
	p.mu.Unlock()
	_, err := io.WriteString(w, s)
	require.NoError(t, err)
}

func receive(t *testing.T, ch <-chan detection.RawResult) detection.RawResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no result received")
		return detection.RawResult{}
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("barcode")
	require.NoError(t, err)
	assert.Equal(t, detection.Engine1D, m.EngineKind())
	assert.Equal(t, detection.Engine2D, ModeQR.EngineKind())

	_, err = ParseMode("ocr")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestLineEngineEmitsResults(t *testing.T) {
	p := newPipes()
	out := make(chan detection.RawResult, 4)
	s := NewSession(LineFactory(p.open), out, logger.NewDiscard())

	require.NoError(t, s.Start(t.Context(), ModeBarcode, "/dev/decoder0"))
	p.write(t, "/dev/decoder0", "ABC123\tcode_128_reader\n\n4006381333931\tean_reader\tformat=EAN_13;sym=x\n")

	first := receive(t, out)
	assert.Equal(t, detection.Engine1D, first.Engine)
	assert.Equal(t, "ABC123", first.Text)
	assert.Equal(t, "code_128_reader", first.Format)

	second := receive(t, out)
	assert.Equal(t, "EAN_13", second.Metadata["format"])

	require.NoError(t, s.Stop())
	assert.False(t, s.State().Running)
}

func TestSessionRestartReleasesPreviousDevice(t *testing.T) {
	p := newPipes()
	out := make(chan detection.RawResult, 4)
	s := NewSession(LineFactory(p.open), out, logger.NewDiscard())

	require.NoError(t, s.Start(t.Context(), ModeQR, "cam0"))
	require.NoError(t, s.Start(t.Context(), ModeBarcode, "cam0"))

	p.mu.Lock()
	assert.Equal(t, []string{"cam0", "cam0"}, p.opened)
	p.mu.Unlock()

	st := s.State()
	assert.True(t, st.Running)
	assert.Equal(t, ModeBarcode, st.Mode)

	p.write(t, "cam0", "X\n")
	assert.Equal(t, detection.Engine1D, receive(t, out).Engine)
	require.NoError(t, s.Stop())
}

type brokenEngine struct{}

func (brokenEngine) Kind() detection.EngineKind { return detection.Engine2D }
func (brokenEngine) Start(context.Context, string, chan<- detection.RawResult) error {
	return errors.NewStd("camera busy")
}
func (brokenEngine) Stop() error { return nil }

func TestEngineInitErrorIsReported(t *testing.T) {
	out := make(chan detection.RawResult)
	s := NewSession(func(detection.EngineKind) (Engine, error) { return brokenEngine{}, nil }, out, logger.NewDiscard())

	var reported error
	s.OnError(func(err error) { reported = err })

	err := s.Start(t.Context(), ModeQR, "cam0")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryRecognition))
	assert.Equal(t, err, reported)
	assert.False(t, s.State().Running)
}

func TestSessionRejectsUnknownMode(t *testing.T) {
	s := NewSession(LineFactory(newPipes().open), make(chan detection.RawResult), logger.NewDiscard())
	err := s.Start(t.Context(), Mode("ocr"), "-")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestStopUnblocksPendingSend(t *testing.T) {
	p := newPipes()
	out := make(chan detection.RawResult) // nobody reads
	s := NewSession(LineFactory(p.open), out, logger.NewDiscard())

	require.NoError(t, s.Start(t.Context(), ModeQR, "cam"))
	p.write(t, "cam", "A\n")
	require.NoError(t, s.Stop())
}

func TestMQTTEngine(t *testing.T) {
	client := mqtt.NewLoopback()
	out := make(chan detection.RawResult, 4)
	s := NewSession(MQTTFactory(client, "scanrelay/detections", logger.NewDiscard()), out, logger.NewDiscard())

	require.NoError(t, s.Start(t.Context(), ModeBarcode, ""))
	require.True(t, client.Subscribed("scanrelay/detections"))

	publish := func(v any) {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, client.Publish(t.Context(), "scanrelay/detections", b))
	}
	publish(DetectionMessage{Text: "ABC123", Format: "CODE_128", Reader: "code_128_reader"})
	require.NoError(t, client.Publish(t.Context(), "scanrelay/detections", []byte("garbage")))
	publish(DetectionMessage{Text: "Z", Metadata: map[string]string{"format": "CODE_39"}})

	first := receive(t, out)
	assert.Equal(t, "code_128_reader", first.Format)
	second := receive(t, out)
	assert.Equal(t, "Z", second.Text)
	assert.Equal(t, "CODE_39", second.Metadata["format"])

	require.NoError(t, s.Stop())
	assert.False(t, client.Subscribed("scanrelay/detections"))
}

func TestMQTTEngineDeviceOverridesTopic(t *testing.T) {
	client := mqtt.NewLoopback()
	e := NewMQTTEngine(detection.Engine2D, client, "default", logger.NewDiscard())
	require.NoError(t, e.Start(t.Context(), "booth/7", make(chan detection.RawResult, 1)))
	assert.True(t, client.Subscribed("booth/7"))
	assert.False(t, client.Subscribed("default"))
	require.NoError(t, e.Stop())
}

// stickyClient keeps handing messages to a handler after Unsubscribe, the way
// a broker client can dispatch a message that was already routed.
type stickyClient struct {
	*mqtt.Loopback
	mu      sync.Mutex
	handler mqtt.MessageHandler
}

func (c *stickyClient) Subscribe(ctx context.Context, topic string, h mqtt.MessageHandler) error {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	return c.Loopback.Subscribe(ctx, topic, h)
}

func (c *stickyClient) deliver(payload []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h("scanrelay/detections", payload)
}

func TestMQTTEngineStopWhileMessagesArrive(t *testing.T) {
	client := &stickyClient{Loopback: mqtt.NewLoopback()}
	// Unbuffered and never read: handlers block until Stop releases them.
	out := make(chan detection.RawResult)
	e := NewMQTTEngine(detection.Engine2D, client, "scanrelay/detections", logger.NewDiscard())
	require.NoError(t, e.Start(t.Context(), "", out))

	payload := []byte(`{"text":"ABC123","format":"QR_CODE"}`)
	var wg sync.WaitGroup
	stopped := make(chan struct{})
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stopped:
					client.deliver(payload)
					return
				default:
					client.deliver(payload)
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- e.Stop() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while messages were arriving")
	}
	close(stopped)
	wg.Wait()

	// Late messages after Stop are dropped without blocking.
	client.deliver(payload)
	assert.False(t, client.Subscribed("scanrelay/detections"))
}

func TestMQTTEngineRestartAfterStop(t *testing.T) {
	client := mqtt.NewLoopback()
	out := make(chan detection.RawResult, 1)
	e := NewMQTTEngine(detection.Engine2D, client, "scanrelay/detections", logger.NewDiscard())

	require.NoError(t, e.Start(t.Context(), "", out))
	require.NoError(t, e.Stop())
	require.NoError(t, e.Start(t.Context(), "", out))
	require.NoError(t, client.Publish(t.Context(), "scanrelay/detections", []byte(`{"text":"again"}`)))
	assert.Equal(t, "again", receive(t, out).Text)
	require.NoError(t, e.Stop())
}
