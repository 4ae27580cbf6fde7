// Package api exposes the pipeline control surface over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/scanrelay/scanrelay/internal/capture"
	"github.com/scanrelay/scanrelay/internal/conf"
	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/logger"
	"github.com/scanrelay/scanrelay/internal/observability"
	"github.com/scanrelay/scanrelay/internal/pipeline"
	"github.com/scanrelay/scanrelay/internal/stats"
)

// Controller manages the API routes and handlers
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Settings *conf.Settings

	pipeline *pipeline.Pipeline
	session  *capture.Session
	stats    *stats.Aggregator
	board    *stats.Board
	metrics  *observability.Metrics
	log      logger.Logger
	runCtx   context.Context
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithSession enables the capture start/stop routes.
func WithSession(s *capture.Session) Option { return func(c *Controller) { c.session = s } }

// WithStats enables the stats and export routes.
func WithStats(a *stats.Aggregator, b *stats.Board) Option {
	return func(c *Controller) { c.stats, c.board = a, b }
}

// WithMetrics exposes the Prometheus registry on /metrics.
func WithMetrics(m *observability.Metrics) Option { return func(c *Controller) { c.metrics = m } }

// WithRunContext sets the context engines started through the API run under.
func WithRunContext(ctx context.Context) Option { return func(c *Controller) { c.runCtx = ctx } }

// WithLogger sets the API logger.
func WithLogger(l logger.Logger) Option { return func(c *Controller) { c.log = l } }

// New creates a controller and registers its routes on e.
func New(e *echo.Echo, settings *conf.Settings, p *pipeline.Pipeline, opts ...Option) *Controller {
	c := &Controller{Echo: e, Settings: settings, pipeline: p}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Global().Module("api")
	}
	if c.runCtx == nil {
		c.runCtx = context.Background()
	}
	c.initRoutes()
	return c
}

// NewEcho creates an echo instance with the standard middleware stack.
func NewEcho(log logger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURIPath:  true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("request",
				logger.String("method", v.Method),
				logger.String("path", v.URIPath),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
				logger.String("remote_ip", v.RemoteIP))
			return nil
		},
	}))
	return e
}

func (c *Controller) initRoutes() {
	c.Group = c.Echo.Group("/api/v1")

	c.Group.GET("/status", c.GetStatus)
	c.Group.GET("/history", c.GetHistory)
	c.Group.POST("/scans", c.SubmitScan)
	c.Group.GET("/queue", c.GetQueue)
	c.Group.POST("/queue/sync", c.SyncQueue)

	if c.stats != nil {
		c.Group.GET("/stats", c.GetStats)
		c.Group.GET("/export", c.Export)
	}
	if c.session != nil {
		c.Group.POST("/capture/start", c.StartCapture)
		c.Group.POST("/capture/stop", c.StopCapture)
	}
	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// HandleError logs err and writes an ErrorResponse with code.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := ErrorResponse{
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Error = message
	}
	c.log.Warn("API error",
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Path()),
		logger.String("ip", ctx.RealIP()),
		logger.Error(err))
	return ctx.JSON(code, resp)
}

func (c *Controller) runContext() context.Context { return c.runCtx }

// Serve runs the HTTP server on listen until ctx is done, then shuts it down.
func (c *Controller) Serve(ctx context.Context, listen string) error {
	errCh := make(chan error, 1)
	go func() {
		c.log.Info("control API listening", logger.String("listen", listen))
		errCh <- c.Echo.Start(listen)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Echo.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
