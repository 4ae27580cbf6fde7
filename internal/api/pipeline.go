package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/scanrelay/scanrelay/internal/capture"
	"github.com/scanrelay/scanrelay/internal/delivery"
	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/pipeline"
)

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	pipeline.Snapshot
	LastScan *pipeline.LastScan `json:"last_scan,omitempty"`
	Capture  *capture.State     `json:"capture,omitempty"`
	Fallback bool               `json:"fallback_enabled"`
}

// GetStatus handles GET /api/v1/status
func (c *Controller) GetStatus(ctx echo.Context) error {
	resp := StatusResponse{
		Snapshot: c.pipeline.Indicator().Snapshot(),
		Fallback: c.pipeline.Engine().HasFallback(),
	}
	if last, ok := c.pipeline.LastScan(); ok {
		resp.LastScan = &last
	}
	if c.session != nil {
		st := c.session.State()
		resp.Capture = &st
	}
	return ctx.JSON(http.StatusOK, resp)
}

// GetHistory handles GET /api/v1/history
func (c *Controller) GetHistory(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.pipeline.History().List())
}

// SubmitRequest is the body of POST /scans. An empty text resends the last scan.
type SubmitRequest struct {
	Text string `json:"text"`
}

// SubmitResponse reports a manual submission.
type SubmitResponse struct {
	Status    delivery.Status `json:"status"`
	Transport string          `json:"transport,omitempty"`
	Error     string          `json:"error,omitempty"`
	QueueSize int             `json:"queue_size"`
}

// SubmitScan handles POST /api/v1/scans
func (c *Controller) SubmitScan(ctx echo.Context) error {
	var req SubmitRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	// A client hanging up must not abandon a delivery that may already be
	// on the wire; the outcome still lands in history and the queue.
	out, err := c.pipeline.Submit(context.WithoutCancel(ctx.Request().Context()), strings.TrimSpace(req.Text))
	if err != nil {
		return c.HandleError(ctx, err, "Nothing to submit", http.StatusBadRequest)
	}
	resp := SubmitResponse{
		Status:    out.Status,
		Transport: out.Transport,
		QueueSize: c.pipeline.Engine().Queue().Size(),
	}
	if out.Err != nil {
		resp.Error = errors.ScrubMessage(out.Err.Error())
	}
	code := http.StatusOK
	if out.Status == delivery.StatusQueued {
		code = http.StatusAccepted
	}
	return ctx.JSON(code, resp)
}

// QueueItem is one queued record as returned by GET /queue.
type QueueItem struct {
	ID         string          `json:"id"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Record     json.RawMessage `json:"record"`
}

// GetQueue handles GET /api/v1/queue
func (c *Controller) GetQueue(ctx echo.Context) error {
	entries := c.pipeline.Engine().Queue().PeekAll()
	items := make([]QueueItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, QueueItem{ID: e.ID, EnqueuedAt: e.EnqueuedAt, Record: json.RawMessage(e.Record)})
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"size":  len(items),
		"items": items,
	})
}

// SyncQueue handles POST /api/v1/queue/sync
func (c *Controller) SyncQueue(ctx echo.Context) error {
	report := c.pipeline.Drain(ctx.Request().Context())
	return ctx.JSON(http.StatusOK, report)
}

// CaptureRequest is the body of POST /capture/start.
type CaptureRequest struct {
	Mode   string `json:"mode"`
	Device string `json:"device"`
}

// StartCapture handles POST /api/v1/capture/start
func (c *Controller) StartCapture(ctx echo.Context) error {
	req := CaptureRequest{Mode: c.Settings.Capture.Mode, Device: c.Settings.Capture.Device}
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	mode, err := capture.ParseMode(req.Mode)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid capture mode", http.StatusBadRequest)
	}
	// The engine keeps running after this request returns.
	if err := c.session.Start(c.runContext(), mode, req.Device); err != nil {
		return c.HandleError(ctx, err, "Failed to start capture", http.StatusServiceUnavailable)
	}
	return ctx.JSON(http.StatusOK, c.session.State())
}

// StopCapture handles POST /api/v1/capture/stop
func (c *Controller) StopCapture(ctx echo.Context) error {
	if err := c.session.Stop(); err != nil {
		return c.HandleError(ctx, err, "Failed to stop capture", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, c.session.State())
}
