// Package pipeline wires capture, debounce and delivery together. It owns the
// session state: the producer channel, the debounce slot, the in-flight
// deliveries and the status indicator.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/scanrelay/scanrelay/internal/delivery"
	"github.com/scanrelay/scanrelay/internal/detection"
	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/logger"
	"github.com/scanrelay/scanrelay/internal/record"
)

// DefaultInputBuffer is the capacity of the producer channel.
const DefaultInputBuffer = 64

// Config controls pipeline behavior.
type Config struct {
	// AutoSave delivers every accepted detection. When false detections are
	// only recorded and must be sent with Submit.
	AutoSave bool
	// DrainInterval triggers a periodic drain. Zero disables it.
	DrainInterval time.Duration
	// HistorySize is the number of recent scans kept.
	HistorySize int
	// InputBuffer is the producer channel capacity.
	InputBuffer int
}

// Recorder receives pipeline metrics.
type Recorder interface {
	RecordDetection(result string)
	SetQueueSize(n int)
	SetStatus(status string)
}

type noopRecorder struct{}

func (noopRecorder) RecordDetection(string) {}
func (noopRecorder) SetQueueSize(int)       {}
func (noopRecorder) SetStatus(string)       {}

// LastScan is the most recently accepted detection.
type LastScan struct {
	Detection detection.Detection `json:"detection"`
	Kind      detection.Kind      `json:"kind"`
}

// Pipeline is the session controller.
type Pipeline struct {
	cfg      Config
	in       chan detection.RawResult
	gate     *detection.Gate
	builder  *record.Builder
	engine   *delivery.Engine
	ind      *Indicator
	history  *History
	metrics  Recorder
	log      logger.Logger
	inflight sync.WaitGroup

	mu   sync.Mutex
	last *LastScan
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option { return func(p *Pipeline) { p.metrics = r } }

// WithLogger sets the pipeline logger.
func WithLogger(l logger.Logger) Option { return func(p *Pipeline) { p.log = l } }

// New creates a pipeline delivering through engine.
func New(cfg Config, builder *record.Builder, engine *delivery.Engine, opts ...Option) *Pipeline {
	if cfg.InputBuffer <= 0 {
		cfg.InputBuffer = DefaultInputBuffer
	}
	p := &Pipeline{
		cfg:     cfg,
		in:      make(chan detection.RawResult, cfg.InputBuffer),
		gate:    detection.NewGate(),
		builder: builder,
		engine:  engine,
		history: NewHistory(cfg.HistorySize),
		metrics: noopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Global().Module("pipeline")
	}
	p.ind = NewIndicator(engine.Queue().Size)
	p.ind.Observe(func(s Snapshot) {
		p.metrics.SetStatus(string(s.Status))
		p.metrics.SetQueueSize(s.QueueSize)
	})
	return p
}

// Input is the producer side of the detection channel. Recognition engines
// send raw results here.
func (p *Pipeline) Input() chan<- detection.RawResult { return p.in }

// Indicator returns the status indicator.
func (p *Pipeline) Indicator() *Indicator { return p.ind }

// History returns the recent scans.
func (p *Pipeline) History() *History { return p.history }

// Engine returns the delivery engine.
func (p *Pipeline) Engine() *delivery.Engine { return p.engine }

// Run consumes the producer channel until ctx is done. Deliveries started by
// Run are not cancelled when it returns; use Wait to let them finish.
func (p *Pipeline) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if p.cfg.DrainInterval > 0 {
		ticker := time.NewTicker(p.cfg.DrainInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	p.log.Info("pipeline started",
		logger.Bool("autosave", p.cfg.AutoSave),
		logger.Duration("drain_interval", p.cfg.DrainInterval),
		logger.Int("queue_size", p.engine.Queue().Size()))

	for {
		select {
		case <-ctx.Done():
			p.log.Info("pipeline stopping", logger.Int("queue_size", p.engine.Queue().Size()))
			return nil
		case raw := <-p.in:
			p.consume(ctx, raw)
		case <-tick:
			if p.engine.Queue().Size() > 0 {
				p.startDrain(ctx)
			}
		}
	}
}

// consume normalizes and gates one raw result. Only the Run goroutine calls it.
func (p *Pipeline) consume(ctx context.Context, raw detection.RawResult) {
	d, ok := detection.Normalize(raw)
	if !ok {
		p.metrics.RecordDetection("unparseable")
		return
	}
	if !p.gate.Accept(d) {
		p.metrics.RecordDetection("suppressed")
		p.log.Trace("repeat suppressed", logger.String("format", string(d.Format)))
		return
	}
	p.metrics.RecordDetection("accepted")

	kind := detection.Classify(d.Text)
	p.mu.Lock()
	p.last = &LastScan{Detection: d, Kind: kind}
	p.mu.Unlock()
	p.history.add(Scan{Text: d.Text, DataType: string(d.Format), Kind: kind, At: d.CapturedAt})

	p.log.Info("detection accepted",
		logger.String("format", string(d.Format)),
		logger.String("kind", string(kind)))

	if !p.cfg.AutoSave {
		return
	}

	// Deliveries outlive capture stop, so they must not inherit its cancellation.
	dctx := context.WithoutCancel(ctx)
	p.inflight.Go(func() {
		rec, err := p.builder.FromDetection(dctx, d)
		if err != nil {
			p.log.Error("failed to build record", logger.Error(err))
			return
		}
		out := p.deliver(dctx, rec)
		p.history.setOutcome(d.Text, d.CapturedAt, string(out.Status))
	})
}

func (p *Pipeline) deliver(ctx context.Context, rec record.Record) delivery.Outcome {
	p.ind.Set(StatusSending, "")
	out := p.engine.Deliver(ctx, rec)
	switch out.Status {
	case delivery.StatusDelivered:
		p.ind.Set(StatusDelivered, out.Transport)
	default:
		detail := ""
		if out.Err != nil {
			detail = errors.ScrubMessage(out.Err.Error())
		}
		p.ind.Set(StatusQueued, detail)
	}
	return out
}

// Submit delivers text as a MANUAL record, bypassing the debounce gate. An
// empty text resends the last accepted scan with its original format.
func (p *Pipeline) Submit(ctx context.Context, text string) (delivery.Outcome, error) {
	var (
		rec record.Record
		err error
	)
	if text == "" {
		p.mu.Lock()
		last := p.last
		p.mu.Unlock()
		if last == nil {
			return delivery.Outcome{}, errors.Newf("nothing to submit").
				Component("pipeline").
				Category(errors.CategoryValidation).
				Build()
		}
		rec, err = p.builder.FromDetection(ctx, last.Detection)
	} else {
		rec, err = p.builder.Manual(ctx, text)
	}
	if err != nil {
		return delivery.Outcome{}, err
	}

	at := time.Now()
	if text != "" {
		p.history.add(Scan{
			Text:     rec.Data(),
			DataType: rec.DataType(),
			Kind:     detection.Classify(rec.Data()),
			At:       at,
		})
	}

	p.inflight.Add(1)
	defer p.inflight.Done()
	out := p.deliver(ctx, rec)
	if text != "" {
		p.history.setOutcome(rec.Data(), at, string(out.Status))
	}
	return out, nil
}

// Drain replays the durable queue. An empty queue only reports queue-empty.
func (p *Pipeline) Drain(ctx context.Context) delivery.DrainReport {
	if p.engine.Queue().Size() == 0 {
		p.ind.Set(StatusQueueEmpty, "")
		return delivery.DrainReport{}
	}
	p.ind.Set(StatusSyncing, "")
	report := p.engine.Drain(ctx)
	if !report.Skipped {
		p.ind.Set(StatusSynced, "")
	}
	return report
}

func (p *Pipeline) startDrain(ctx context.Context) {
	p.inflight.Go(func() {
		p.Drain(ctx)
	})
}

// EngineFailed marks the indicator after a recognition engine error.
func (p *Pipeline) EngineFailed(err error) {
	p.ind.Set(StatusEngineError, errors.ScrubMessage(err.Error()))
}

// LastScan returns the last accepted detection.
func (p *Pipeline) LastScan() (LastScan, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return LastScan{}, false
	}
	return *p.last, true
}

// Wait blocks until in-flight deliveries and drains finish or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
