package delivery

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/scanrelay/scanrelay/internal/logger"
	"github.com/scanrelay/scanrelay/internal/queue"
	"github.com/scanrelay/scanrelay/internal/record"
)

// Status is the result of a delivery.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusQueued    Status = "queued"
)

// Outcome describes how a record was handled. Err carries the last transport
// failure for logging; it is never fatal.
type Outcome struct {
	Status    Status
	Transport string // transport that delivered the record, empty when queued
	Err       error
	Duration  time.Duration
}

// Recorder receives delivery metrics.
type Recorder interface {
	RecordDelivery(transport, result string, seconds float64)
	RecordDrainSend(result string)
}

type noopRecorder struct{}

func (noopRecorder) RecordDelivery(string, string, float64) {}
func (noopRecorder) RecordDrainSend(string)                 {}

// Engine delivers records with fallback and queueing.
type Engine struct {
	direct   Transport
	fallback Transport // nil when no fallback is configured
	queue    *queue.Queue
	limiter  *rate.Limiter
	log      logger.Logger
	metrics  Recorder

	draining atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithFallback sets the fallback transport.
func WithFallback(t Transport) Option { return func(e *Engine) { e.fallback = t } }

// WithDrainRate paces drain sends to perSecond. Zero or less is unlimited.
func WithDrainRate(perSecond float64) Option {
	return func(e *Engine) {
		if perSecond > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.metrics = r } }

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option { return func(e *Engine) { e.log = l } }

// NewEngine creates an Engine around the direct transport and the durable queue.
func NewEngine(direct Transport, q *queue.Queue, opts ...Option) *Engine {
	e := &Engine{direct: direct, queue: q, metrics: noopRecorder{}}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Global().Module("delivery")
	}
	return e
}

// Queue returns the durable queue the engine parks failures in.
func (e *Engine) Queue() *queue.Queue { return e.queue }

// HasFallback reports whether a fallback transport is configured.
func (e *Engine) HasFallback() bool { return e.fallback != nil }

// Deliver sends rec directly, then through the fallback, and finally parks it
// in the durable queue. It never fails; the outcome says which path was taken.
func (e *Engine) Deliver(ctx context.Context, rec record.Record) Outcome {
	start := time.Now()
	log := e.log.With(logger.String("data_type", rec.DataType()))

	err := e.attempt(ctx, e.direct, rec)
	if err == nil {
		return Outcome{Status: StatusDelivered, Transport: e.direct.Name(), Duration: time.Since(start)}
	}
	log.Debug("direct send failed", logger.Error(err))

	if e.fallback != nil {
		ferr := e.attempt(ctx, e.fallback, rec)
		if ferr == nil {
			log.Info("record delivered via fallback")
			return Outcome{Status: StatusDelivered, Transport: e.fallback.Name(), Duration: time.Since(start)}
		}
		log.Debug("fallback send failed", logger.Error(ferr))
		err = ferr
	}

	entry, qerr := e.queue.Enqueue(rec)
	if qerr != nil {
		log.Warn("queue persistence failed, record kept in memory", logger.Error(qerr))
	}
	log.Info("record queued for later delivery",
		logger.String("entry_id", entry.ID),
		logger.Int("queue_size", e.queue.Size()))
	return Outcome{Status: StatusQueued, Err: err, Duration: time.Since(start)}
}

func (e *Engine) attempt(ctx context.Context, t Transport, rec record.Record) error {
	start := time.Now()
	err := t.Send(ctx, rec)
	result := "success"
	if err != nil {
		result = "failure"
	}
	e.metrics.RecordDelivery(t.Name(), result, time.Since(start).Seconds())
	return err
}
