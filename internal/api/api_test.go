package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanrelay/scanrelay/internal/capture"
	"github.com/scanrelay/scanrelay/internal/conf"
	"github.com/scanrelay/scanrelay/internal/delivery"
	"github.com/scanrelay/scanrelay/internal/detection"
	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/httpclient"
	"github.com/scanrelay/scanrelay/internal/logger"
	"github.com/scanrelay/scanrelay/internal/observability"
	"github.com/scanrelay/scanrelay/internal/pipeline"
	"github.com/scanrelay/scanrelay/internal/queue"
	"github.com/scanrelay/scanrelay/internal/record"
	"github.com/scanrelay/scanrelay/internal/stats"
)

const endpoint = "https://collector.example/exec"

type testEnv struct {
	e        *echo.Echo
	c        *Controller
	mock     *httpmock.MockTransport
	queue    *queue.Queue
	pipeline *pipeline.Pipeline
	session  *capture.Session
	writers  sync.Map
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{mock: httpmock.NewMockTransport()}
	client := httpclient.New(&httpclient.Config{Transport: env.mock})

	settings := conf.DefaultSettings()
	settings.Endpoint.URL = endpoint

	env.queue = queue.Open(queue.NewMemoryStore(), queue.DefaultKey, queue.WithLogger(logger.NewDiscard()))
	engine := delivery.NewEngine(delivery.NewDirectTransport(endpoint, client), env.queue,
		delivery.WithLogger(logger.NewDiscard()))
	env.pipeline = pipeline.New(pipeline.Config{HistorySize: 10}, &record.Builder{Origin: "test"}, engine,
		pipeline.WithLogger(logger.NewDiscard()))

	open := func(device string) (io.ReadCloser, error) {
		r, w := io.Pipe()
		env.writers.Store(device, w)
		return r, nil
	}
	env.session = capture.NewSession(capture.LineFactory(open), env.pipeline.Input(), logger.NewDiscard())
	t.Cleanup(func() { _ = env.session.Stop() })

	metrics, err := observability.NewMetrics()
	require.NoError(t, err)

	env.e = echo.New()
	env.c = New(env.e, settings, env.pipeline,
		WithSession(env.session),
		WithStats(stats.NewAggregator(endpoint, client, logger.NewDiscard()), &stats.Board{}),
		WithMetrics(metrics),
		WithLogger(logger.NewDiscard()))
	return env
}

func (env *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func TestGetStatus(t *testing.T) {
	env := setupTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, pipeline.StatusIdle, resp.Status)
	assert.Equal(t, 0, resp.QueueSize)
	require.NotNil(t, resp.Capture)
	assert.False(t, resp.Capture.Running)
	assert.Nil(t, resp.LastScan)
}

func TestSubmitScanDelivered(t *testing.T) {
	env := setupTestEnv(t)
	env.mock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewStringResponder(http.StatusOK, `{"ok":true}`))

	rec := env.do(t, http.MethodPost, "/api/v1/scans", `{"text":"walk-in visitor"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, delivery.StatusDelivered, resp.Status)
	assert.Equal(t, "direct", resp.Transport)

	history := env.pipeline.History().List()
	require.Len(t, history, 1)
	assert.Equal(t, "MANUAL", history[0].DataType)
}

func TestSubmitScanSurvivesClientDisconnect(t *testing.T) {
	env := setupTestEnv(t)
	env.mock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewStringResponder(http.StatusOK, `{"ok":true}`))

	reqCtx, cancel := context.WithCancel(t.Context())
	cancel()
	req := httptest.NewRequestWithContext(reqCtx, http.MethodPost, "/api/v1/scans", strings.NewReader(`{"text":"late visitor"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.mock.GetTotalCallCount())
	assert.Equal(t, 0, env.queue.Size())

	history := env.pipeline.History().List()
	require.Len(t, history, 1)
	assert.Equal(t, string(delivery.StatusDelivered), history[0].Outcome)
}

func TestSubmitScanQueuedThenSync(t *testing.T) {
	env := setupTestEnv(t)
	env.mock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewErrorResponder(errors.NewStd("offline")))

	rec := env.do(t, http.MethodPost, "/api/v1/scans", `{"text":"ABC"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var q struct {
		Size  int         `json:"size"`
		Items []QueueItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	require.Equal(t, 1, q.Size)
	var stored map[string]any
	require.NoError(t, json.Unmarshal(q.Items[0].Record, &stored))
	assert.Equal(t, "ABC", stored["data"])

	env.mock.RegisterResponder(http.MethodPost, endpoint, httpmock.NewStringResponder(http.StatusOK, `{"ok":true}`))
	rec = env.do(t, http.MethodPost, "/api/v1/queue/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report delivery.DrainReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 0, env.queue.Size())
}

func TestSubmitWithoutTextAndNoLastScan(t *testing.T) {
	env := setupTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/scans", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestGetStatsKeepsFiguresOnNoUpdate(t *testing.T) {
	env := setupTestEnv(t)
	env.mock.RegisterResponder(http.MethodGet, endpoint,
		httpmock.NewStringResponder(http.StatusOK, `{"ok":true,"total":10,"unique":4,"series":[]}`))

	rec := env.do(t, http.MethodGet, "/api/v1/stats?days=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var first StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.True(t, first.Updated)
	assert.Equal(t, 10, first.Total)

	env.mock.RegisterResponder(http.MethodGet, endpoint, httpmock.NewStringResponder(http.StatusOK, `{"ok":false}`))
	rec = env.do(t, http.MethodGet, "/api/v1/stats", "")
	var second StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.False(t, second.Updated)
	assert.Equal(t, 10, second.Total)
	assert.NotEmpty(t, second.Error)

	rec = env.do(t, http.MethodGet, "/api/v1/stats?days=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportRedirects(t *testing.T) {
	env := setupTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/export?start=2026-01-01&end=2026-01-07", "")
	require.Equal(t, http.StatusFound, rec.Code)

	u, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "csv", u.Query().Get("download"))
	assert.Equal(t, "2026-01-01", u.Query().Get("start"))
	assert.Equal(t, "2026-01-07", u.Query().Get("end"))

	rec = env.do(t, http.MethodGet, "/api/v1/export?start=2026-02-01&end=2026-01-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/export?start=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCaptureStartStop(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/capture/start", `{"mode":"barcode","device":"cam1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var st capture.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Running)
	assert.Equal(t, capture.ModeBarcode, st.Mode)

	rec = env.do(t, http.MethodPost, "/api/v1/capture/start", `{"mode":"ocr"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/capture/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.False(t, st.Running)
}

func TestMetricsRoute(t *testing.T) {
	env := setupTestEnv(t)
	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scanrelay_queue_size")
}

func TestStatusShowsLastScan(t *testing.T) {
	env := setupTestEnv(t)
	ctx := t.Context()
	go func() { _ = env.pipeline.Run(ctx) }()

	env.pipeline.Input() <- detection.RawResult{Engine: detection.Engine2D, Text: "mailto:a@b.example", Format: "QR_CODE"}
	require.Eventually(t, func() bool {
		_, ok := env.pipeline.LastScan()
		return ok
	}, time.Second, 5*time.Millisecond)

	rec := env.do(t, http.MethodGet, "/api/v1/status", "")
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.LastScan)
	assert.Equal(t, detection.KindEmail, resp.LastScan.Kind)
}
