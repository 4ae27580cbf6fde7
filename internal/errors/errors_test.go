package errors

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu     sync.Mutex
	errors []*EnhancedError
}

func (r *recordingReporter) ReportError(err *EnhancedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func TestBuildDefaults(t *testing.T) {
	ee := New(fmt.Errorf("boom")).Build()

	assert.Equal(t, "boom", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.Component)
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.Timestamp.IsZero())
}

func TestBuildDetectsCategory(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"timeout", fmt.Errorf("context deadline exceeded"), CategoryTimeout},
		{"connection", fmt.Errorf("dial tcp: connection refused"), CategoryNetwork},
		{"validation", fmt.Errorf("invalid mode"), CategoryValidation},
		{"wrapped enhanced", fmt.Errorf("outer: %w", New(NewStd("x")).Category(CategoryPersistence).Build()), CategoryPersistence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.err).Build().Category)
		})
	}
}

func TestEnhancedErrorIsAndAs(t *testing.T) {
	sentinel := NewStd("sentinel")
	ee := New(sentinel).Category(CategoryFallback).Component("delivery").Build()
	wrapped := fmt.Errorf("attempt failed: %w", ee)

	assert.True(t, Is(wrapped, sentinel))
	assert.True(t, IsCategory(wrapped, CategoryFallback))
	assert.False(t, IsCategory(wrapped, CategoryNetwork))

	var target *EnhancedError
	require.True(t, As(wrapped, &target))
	assert.Equal(t, "delivery", target.Component)
}

func TestContextIsCopied(t *testing.T) {
	ee := New(NewStd("x")).Context("operation", "drain").Build()
	ctx := ee.GetContext()
	ctx["operation"] = "mutated"

	assert.Equal(t, "drain", ee.GetContext()["operation"])
}

func TestReporterReceivesBuiltErrorsOnce(t *testing.T) {
	rec := &recordingReporter{}
	SetReporter(rec)
	t.Cleanup(func() { SetReporter(nil) })

	ee := New(NewStd("offline")).Category(CategoryNetwork).Build()
	report(ee)

	require.Len(t, rec.errors, 1)
	assert.Same(t, ee, rec.errors[0])
	assert.True(t, ee.IsReported())
}

func TestScrubMessage(t *testing.T) {
	msg := `GET https://example.com/exec?mode=jsonp&payload=%7B%22data%22 failed, token=abc123`
	scrubbed := ScrubMessage(msg)

	assert.NotContains(t, scrubbed, "payload")
	assert.NotContains(t, scrubbed, "abc123")
	assert.Contains(t, scrubbed, "https://example.com/exec?[REDACTED]")
}

func TestNetworkContextAnonymizesURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://collector.example/exec?payload=secret", "https-endpoint"},
		{"http://10.0.0.5:8080/geo", "http-endpoint"},
		{"tcp://broker:1883", "mqtt-broker"},
		{"file:///tmp/x", "other-protocol"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			ee := New(fmt.Errorf("dial failed")).NetworkContext(tt.url, 3*time.Second).Build()
			ctx := ee.GetContext()
			assert.Equal(t, tt.want, ctx["url_category"])
			assert.InDelta(t, 3.0, ctx["timeout_seconds"], 0)
			for _, v := range ctx {
				assert.NotContains(t, fmt.Sprint(v), "secret")
			}
		})
	}

	ee := New(fmt.Errorf("x")).NetworkContext("", 0).Build()
	assert.Empty(t, ee.GetContext())
}
