package delivery

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/httpclient"
	"github.com/scanrelay/scanrelay/internal/logger"
	"github.com/scanrelay/scanrelay/internal/queue"
	"github.com/scanrelay/scanrelay/internal/record"
)

const endpoint = "https://collector.example/exec"

func mustRecord(t *testing.T, data, dataType string) record.Record {
	t.Helper()
	r, err := record.New(record.Fields{
		Exhibition: "(unnamed)",
		Venue:      "(unnamed)",
		ClientTS:   "2026-05-01T10:00:00.000Z",
		Data:       data,
		DataType:   dataType,
		Origin:     "test-agent",
	})
	require.NoError(t, err)
	return r
}

type harness struct {
	mock   *httpmock.MockTransport
	client *httpclient.Client
	queue  *queue.Queue
	store  *saveCounter
}

type saveCounter struct {
	queue.Store
	mu    sync.Mutex
	saves int
}

func (s *saveCounter) Save(key string, value []byte) error {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	return s.Store.Save(key, value)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mock := httpmock.NewMockTransport()
	store := &saveCounter{Store: queue.NewMemoryStore()}
	return &harness{
		mock:   mock,
		client: httpclient.New(&httpclient.Config{Transport: mock}),
		queue:  queue.Open(store, queue.DefaultKey, queue.WithLogger(logger.NewDiscard())),
		store:  store,
	}
}

func (h *harness) engine(opts ...Option) *Engine {
	opts = append([]Option{WithLogger(logger.NewDiscard())}, opts...)
	return NewEngine(NewDirectTransport(endpoint, h.client), h.queue, opts...)
}

func (h *harness) fallback(timeout time.Duration) *JSONPTransport {
	return NewJSONPTransport(endpoint, h.client, timeout, 0)
}

// jsonpResponder answers with a script invoking the requested callback.
func jsonpResponder(ack string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		cb := req.URL.Query().Get("cb")
		return httpmock.NewStringResponse(http.StatusOK, fmt.Sprintf("/**/%s(%s);", cb, ack)), nil
	}
}

func TestDirectTransportAcknowledgement(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		wantErr   error
	}{
		{"ok", httpmock.NewStringResponder(http.StatusOK, `{"ok":true}`), nil},
		{"rejected", httpmock.NewStringResponder(http.StatusOK, `{"ok":false,"error":"sheet locked"}`), ErrRejected},
		{"html", httpmock.NewStringResponder(http.StatusOK, `<html>login</html>`), ErrUnparseableResponse},
		{"no ok key", httpmock.NewStringResponder(http.StatusOK, `{"status":"fine"}`), ErrUnparseableResponse},
		{"server error", httpmock.NewStringResponder(http.StatusBadGateway, `{"ok":true}`), nil},
		{"network", httpmock.NewErrorResponder(errors.NewStd("connection refused")), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.mock.RegisterResponder(http.MethodPost, endpoint, tt.responder)

			err := NewDirectTransport(endpoint, h.client).Send(t.Context(), mustRecord(t, "A", "QR_CODE"))
			if tt.name == "ok" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestDirectTransportFailureCarriesNetworkContext(t *testing.T) {
	h := newHarness(t)
	h.mock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewStringResponder(http.StatusBadGateway, "down"))

	err := NewDirectTransport(endpoint, h.client).Send(t.Context(), mustRecord(t, "A", "QR_CODE"))
	require.Error(t, err)

	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, errors.CategoryHTTP, ee.Category)
	assert.Equal(t, "https-endpoint", ee.GetContext()["url_category"])
	assert.Equal(t, "direct", ee.GetContext()["transport"])
}

func TestDirectTransportSendsRecordBytes(t *testing.T) {
	h := newHarness(t)
	rec := mustRecord(t, "ABC123", "CODE_128")
	h.mock.RegisterResponder(http.MethodPost, endpoint, func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		assert.Equal(t, rec.Bytes(), body)
		return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
	})
	require.NoError(t, NewDirectTransport(endpoint, h.client).Send(t.Context(), rec))
}

func TestDeliverSuccessNeverQueues(t *testing.T) {
	h := newHarness(t)
	h.mock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewStringResponder(http.StatusOK, `{"ok":true}`))

	out := h.engine().Deliver(t.Context(), mustRecord(t, "A", "QR_CODE"))
	assert.Equal(t, StatusDelivered, out.Status)
	assert.Equal(t, "direct", out.Transport)
	assert.Equal(t, 0, h.queue.Size())
	assert.Equal(t, 0, h.store.saves)
}

func TestDeliverFailureWithoutFallbackQueuesExactlyOne(t *testing.T) {
	h := newHarness(t)
	h.mock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewErrorResponder(errors.NewStd("offline")))

	before := h.queue.Size()
	rec := mustRecord(t, "ABC123", "CODE_128")
	out := h.engine().Deliver(t.Context(), rec)

	assert.Equal(t, StatusQueued, out.Status)
	require.Error(t, out.Err)
	require.Equal(t, before+1, h.queue.Size())

	got, err := h.queue.PeekAll()[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, rec.Bytes(), got.Bytes())
	assert.Equal(t, "ABC123", got.Data())
	assert.Equal(t, "CODE_128", got.DataType())
}

func TestDeliverFallsBackToJSONP(t *testing.T) {
	h := newHarness(t)
	h.mock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewStringResponder(http.StatusForbidden, "cors"))
	var payload string
	h.mock.RegisterResponder(http.MethodGet, endpoint, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "jsonp", req.URL.Query().Get("mode"))
		payload = req.URL.Query().Get("payload")
		return jsonpResponder(`{"ok":true}`)(req)
	})

	rec := mustRecord(t, "https://example.com/?a=1&b=2", "QR_CODE")
	fb := h.fallback(time.Second)
	out := h.engine(WithFallback(fb)).Deliver(t.Context(), rec)

	assert.Equal(t, StatusDelivered, out.Status)
	assert.Equal(t, "fallback", out.Transport)
	assert.Equal(t, string(rec.Bytes()), payload)
	assert.Equal(t, 0, h.queue.Size())
	assert.Equal(t, 0, fb.callbacks.size())
}

func TestDeliverQueuesWhenFallbackAlsoFails(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{"rejected", jsonpResponder(`{"ok":false}`)},
		{"script error", httpmock.NewStringResponder(http.StatusInternalServerError, "")},
		{"not a callback", httpmock.NewStringResponder(http.StatusOK, "<html></html>")},
		{"wrong callback", httpmock.NewStringResponder(http.StatusOK, `other({"ok":true})`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.mock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewErrorResponder(errors.NewStd("offline")))
			h.mock.RegisterResponder(http.MethodGet, endpoint, tt.responder)

			fb := h.fallback(time.Second)
			out := h.engine(WithFallback(fb)).Deliver(t.Context(), mustRecord(t, "A", "EAN_13"))
			assert.Equal(t, StatusQueued, out.Status)
			assert.Equal(t, 1, h.queue.Size())
			assert.Equal(t, 0, fb.callbacks.size())
		})
	}
}

func TestJSONPCallbackTimeout(t *testing.T) {
	h := newHarness(t)
	h.mock.RegisterResponder(http.MethodGet, endpoint, func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	fb := h.fallback(30 * time.Millisecond)
	start := time.Now()
	err := fb.Send(t.Context(), mustRecord(t, "A", "QR_CODE"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCallbackTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, fb.callbacks.size())
}

func TestJSONPPayloadBound(t *testing.T) {
	h := newHarness(t)
	fb := NewJSONPTransport(endpoint, h.client, time.Second, 64)

	err := fb.Send(t.Context(), mustRecord(t, strings.Repeat("x", 100), "QR_CODE"))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Equal(t, 0, h.mock.GetTotalCallCount())
}

func TestCallbackFiresOnce(t *testing.T) {
	r := newCallbackRegistry()
	name, cb, release := r.register()
	defer release()

	assert.True(t, r.invoke(name, []byte(`{"ok":true}`)))
	assert.False(t, r.invoke(name, []byte(`{"ok":true}`)))
	assert.Equal(t, `{"ok":true}`, string(<-cb.ch))
	assert.Equal(t, 0, r.size())
}

func TestBuildURLKeepsExistingQuery(t *testing.T) {
	h := newHarness(t)
	fb := NewJSONPTransport(endpoint+"?key=abc", h.client, time.Second, 0)
	raw, err := fb.buildURL("cb1", url.QueryEscape(`{"a":1}`))
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "abc", u.Query().Get("key"))
	assert.Equal(t, "cb1", u.Query().Get("cb"))
	assert.Equal(t, `{"a":1}`, u.Query().Get("payload"))
}

// enqueueAll seeds the queue with records whose data are the given names.
func enqueueAll(t *testing.T, h *harness, names ...string) {
	t.Helper()
	for _, n := range names {
		_, err := h.queue.Enqueue(mustRecord(t, n, "CODE_128"))
		require.NoError(t, err)
	}
}

func queuedData(t *testing.T, q *queue.Queue) []string {
	t.Helper()
	var out []string
	for _, e := range q.PeekAll() {
		r, err := e.Decode()
		require.NoError(t, err)
		out = append(out, r.Data())
	}
	return out
}

// dataResponder fails the direct send for the listed data values.
func dataResponder(failing ...string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		for _, f := range failing {
			if strings.Contains(string(body), `"data":"`+f+`"`) {
				return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
			}
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
	}
}

func TestDrainAllSucceed(t *testing.T) {
	h := newHarness(t)
	enqueueAll(t, h, "A", "B", "C", "D")
	savesBefore := h.store.saves
	h.mock.RegisterResponder(http.MethodPost, endpoint, dataResponder())

	report := h.engine().Drain(t.Context())
	assert.Equal(t, 4, report.Batch)
	assert.Equal(t, 4, report.Delivered)
	assert.Equal(t, 0, report.Remaining)
	assert.Equal(t, 0, h.queue.Size())
	assert.Equal(t, 4, h.store.saves-savesBefore)
}

func TestDrainPartialFailureKeepsFailedRecord(t *testing.T) {
	h := newHarness(t)
	enqueueAll(t, h, "A", "B", "C")
	h.mock.RegisterResponder(http.MethodPost, endpoint, dataResponder("B"))

	report := h.engine().Drain(t.Context())
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"B"}, queuedData(t, h.queue))
}

func TestDrainNeverUsesFallback(t *testing.T) {
	h := newHarness(t)
	enqueueAll(t, h, "A")
	h.mock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewErrorResponder(errors.NewStd("offline")))
	h.mock.RegisterResponder(http.MethodGet, endpoint, jsonpResponder(`{"ok":true}`))

	report := h.engine(WithFallback(h.fallback(time.Second))).Drain(t.Context())
	assert.Equal(t, 0, report.Delivered)
	assert.Equal(t, 1, h.queue.Size())
	assert.Equal(t, 0, h.mock.GetCallCountInfo()["GET "+endpoint])
}

func TestDrainKeepsOrder(t *testing.T) {
	h := newHarness(t)
	enqueueAll(t, h, "A", "B", "C")
	var mu sync.Mutex
	var sent []string
	h.mock.RegisterResponder(http.MethodPost, endpoint, func(req *http.Request) (*http.Response, error) {
		r, err := record.FromBytes(mustRead(req))
		require.NoError(t, err)
		mu.Lock()
		sent = append(sent, r.Data())
		mu.Unlock()
		return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
	})

	h.engine(WithDrainRate(1000)).Drain(t.Context())
	assert.Equal(t, []string{"A", "B", "C"}, sent)
}

func TestDrainCoalesces(t *testing.T) {
	h := newHarness(t)
	enqueueAll(t, h, "A")
	release := make(chan struct{})
	entered := make(chan struct{})
	h.mock.RegisterResponder(http.MethodPost, endpoint, func(*http.Request) (*http.Response, error) {
		close(entered)
		<-release
		return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
	})

	e := h.engine()
	done := make(chan DrainReport)
	go func() { done <- e.Drain(t.Context()) }()
	<-entered

	second := e.Drain(t.Context())
	assert.True(t, second.Skipped)

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Delivered)
}

func TestCapturedScenarioQueuedThenDrained(t *testing.T) {
	h := newHarness(t)
	h.mock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewErrorResponder(errors.NewStd("network down")))
	e := h.engine()

	out := e.Deliver(t.Context(), mustRecord(t, "ABC123", "CODE_128"))
	require.Equal(t, StatusQueued, out.Status)
	require.Equal(t, []string{"ABC123"}, queuedData(t, h.queue))

	h.mock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewStringResponder(http.StatusOK, `{"ok":true}`))
	e.Drain(t.Context())
	assert.Equal(t, 0, h.queue.Size())
}

func mustRead(req *http.Request) []byte {
	b, _ := io.ReadAll(req.Body)
	return b
}
