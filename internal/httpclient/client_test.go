package httpclient

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedClient(t *testing.T, cfg Config) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	cfg.Transport = mock
	return New(&cfg), mock
}

func TestNewDefaults(t *testing.T) {
	c := New(nil)
	assert.Equal(t, DefaultTimeout, c.defaultTimeout)
	assert.Equal(t, defaultUserAgent, c.userAgent)

	c = New(&Config{DefaultTimeout: 2 * time.Second, UserAgent: "booth-7"})
	assert.Equal(t, 2*time.Second, c.defaultTimeout)
	assert.Equal(t, "booth-7", c.userAgent)
}

func TestGetInjectsUserAgent(t *testing.T) {
	c, mock := newMockedClient(t, Config{UserAgent: "scanner/1.0"})
	mock.RegisterResponder(http.MethodGet, "https://collector.example/exec",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "scanner/1.0", req.Header.Get("User-Agent"))
			return httpmock.NewStringResponse(http.StatusOK, "fine"), nil
		})

	resp, err := c.Get(t.Context(), "https://collector.example/exec")
	require.NoError(t, err)
	body, err := ReadBody(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "fine", string(body))
}

func TestPostJSONSetsContentType(t *testing.T) {
	c, mock := newMockedClient(t, Config{})
	mock.RegisterResponder(http.MethodPost, "https://collector.example/exec",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			b, _ := io.ReadAll(req.Body)
			assert.JSONEq(t, `{"data":"ABC"}`, string(b))
			return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
		})

	resp, err := c.PostJSON(t.Context(), "https://collector.example/exec", []byte(`{"data":"ABC"}`))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
}

func TestHooksObserveRequests(t *testing.T) {
	c, mock := newMockedClient(t, Config{})
	mock.RegisterResponder(http.MethodGet, "https://collector.example/stats",
		httpmock.NewStringResponder(http.StatusTeapot, ""))

	var before, after atomic.Int32
	c.SetBeforeRequestHook(func(req *http.Request) {
		assert.Equal(t, "stats", Endpoint(req))
		before.Add(1)
	})
	c.SetAfterResponseHook(func(req *http.Request, resp *http.Response, err error, took time.Duration) {
		assert.NoError(t, err)
		assert.Equal(t, http.StatusTeapot, resp.StatusCode)
		assert.Equal(t, "stats", Endpoint(req))
		assert.GreaterOrEqual(t, took, time.Duration(0))
		after.Add(1)
	})

	resp, err := c.Get(WithEndpoint(t.Context(), "stats"), "https://collector.example/stats")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.EqualValues(t, 1, before.Load())
	assert.EqualValues(t, 1, after.Load())
}

func TestDefaultTimeoutApplied(t *testing.T) {
	c, mock := newMockedClient(t, Config{DefaultTimeout: 20 * time.Millisecond})
	mock.RegisterResponder(http.MethodGet, "https://slow.example/",
		func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		})

	_, err := c.Get(context.Background(), "https://slow.example/")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadBodyIsBounded(t *testing.T) {
	big := io.NopCloser(strings.NewReader(strings.Repeat("x", maxBodyBytes+10)))
	b, err := ReadBody(big)
	require.NoError(t, err)
	assert.Len(t, b, maxBodyBytes)
}

func TestEndpointDefaultsToOther(t *testing.T) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://collector.example/", http.NoBody)
	require.NoError(t, err)
	assert.Equal(t, "other", Endpoint(req))

	req = req.WithContext(WithEndpoint(req.Context(), "geo"))
	assert.Equal(t, "geo", Endpoint(req))
}
