// Package capture manages the recognition engine lifecycle. A Session holds at
// most one active engine; starting a new capture fully stops the previous
// engine before the device is acquired again.
package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/scanrelay/scanrelay/internal/detection"
	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/logger"
)

// Mode selects the recognition engine.
type Mode string

const (
	ModeQR      Mode = "qr"
	ModeBarcode Mode = "barcode"
)

// ErrUnknownMode is returned for modes other than qr and barcode.
var ErrUnknownMode = errors.NewStd("unknown capture mode")

// ParseMode validates a mode flag.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeQR, ModeBarcode:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// EngineKind maps the mode flag to the engine that serves it.
func (m Mode) EngineKind() detection.EngineKind {
	if m == ModeBarcode {
		return detection.Engine1D
	}
	return detection.Engine2D
}

// Engine is a recognition engine. Start must return once the device is
// acquired; results are then sent to out until Stop is called. Stop releases
// the device and returns once no further results will be sent.
type Engine interface {
	Kind() detection.EngineKind
	Start(ctx context.Context, device string, out chan<- detection.RawResult) error
	Stop() error
}

// Factory creates an engine of the given kind.
type Factory func(kind detection.EngineKind) (Engine, error)

// Session owns the active engine.
type Session struct {
	mu      sync.Mutex
	factory Factory
	out     chan<- detection.RawResult
	log     logger.Logger

	active Engine
	mode   Mode
	device string

	onError func(error)
}

// NewSession creates a session that feeds results into out.
func NewSession(factory Factory, out chan<- detection.RawResult, log logger.Logger) *Session {
	if log == nil {
		log = logger.Global().Module("capture")
	}
	return &Session{factory: factory, out: out, log: log}
}

// OnError registers fn to be told about engine initialization failures.
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Start stops any running engine, then starts one for mode on device.
func (s *Session) Start(ctx context.Context, mode Mode, device string) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.stopLocked(); err != nil {
		s.log.Warn("previous engine did not stop cleanly", logger.Error(err))
	}

	engine, err := s.factory(mode.EngineKind())
	if err == nil {
		err = engine.Start(ctx, device, s.out)
	}
	if err != nil {
		werr := errors.New(err).
			Component("capture").
			Category(errors.CategoryRecognition).
			Context("mode", string(mode)).
			Context("device", device).
			Build()
		s.log.Error("recognition engine failed to start", logger.Error(werr))
		if s.onError != nil {
			s.onError(werr)
		}
		return werr
	}

	s.active, s.mode, s.device = engine, mode, device
	s.log.Info("capture started",
		logger.String("mode", string(mode)),
		logger.String("engine", string(engine.Kind())),
		logger.String("device", device))
	return nil
}

// Stop tears down the active engine and releases its device. In-flight
// deliveries are not affected.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Session) stopLocked() error {
	if s.active == nil {
		return nil
	}
	err := s.active.Stop()
	s.log.Info("capture stopped", logger.String("mode", string(s.mode)))
	s.active, s.mode, s.device = nil, "", ""
	return err
}

// State describes the running capture.
type State struct {
	Running bool   `json:"running"`
	Mode    Mode   `json:"mode,omitempty"`
	Device  string `json:"device,omitempty"`
}

// State returns the current capture state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Running: s.active != nil, Mode: s.mode, Device: s.device}
}
