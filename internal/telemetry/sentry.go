// Package telemetry forwards enhanced errors to Sentry.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/scanrelay/scanrelay/internal/errors"
)

// Config configures the Sentry reporter.
type Config struct {
	DSN     string
	Release string
	// Transport replaces the HTTP transport. Tests inject a recording transport.
	Transport sentry.Transport
}

// Reporter implements errors.Reporter on a dedicated Sentry hub.
type Reporter struct {
	hub *sentry.Hub
}

// NewReporter creates a reporter. Messages are scrubbed of query strings
// before they leave the process, since queued payloads travel in them.
func NewReporter(cfg Config) (*Reporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Transport:        cfg.Transport,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          cfg.Release,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			event.Message = errors.ScrubMessage(event.Message)
			for i := range event.Exception {
				event.Exception[i].Value = errors.ScrubMessage(event.Exception[i].Value)
			}
			return event
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry client: %w", err)
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// ReportError implements errors.Reporter.
func (r *Reporter) ReportError(ee *errors.EnhancedError) {
	// Validation errors are user input, not faults.
	if ee.Category == errors.CategoryValidation {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		ctx := make(map[string]any, len(ee.Context))
		for k, v := range ee.GetContext() {
			if s, ok := v.(string); ok {
				v = errors.ScrubMessage(s)
			}
			ctx[k] = v
		}
		scope.SetContext("error", ctx)
		r.hub.CaptureMessage(fmt.Sprintf("%s: %s", ee.Component, ee.Error()))
	})
}

// Flush waits up to timeout for buffered events to be sent.
func (r *Reporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

// Install creates a reporter and installs it as the process-wide error reporter.
func Install(cfg Config) (*Reporter, error) {
	r, err := NewReporter(cfg)
	if err != nil {
		return nil, err
	}
	errors.SetReporter(r)
	return r, nil
}
