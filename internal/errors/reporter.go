package errors

import (
	"regexp"
	"sync"
	"sync/atomic"
)

// Reporter receives every built EnhancedError while reporting is active
type Reporter interface {
	ReportError(err *EnhancedError)
}

var (
	reporterMu sync.RWMutex
	reporter   Reporter
	hasReport  atomic.Bool
)

// SetReporter installs the process-wide reporter. Passing nil disables reporting.
func SetReporter(r Reporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	reporter = r
	hasReport.Store(r != nil)
}

func report(ee *EnhancedError) {
	if !hasReport.Load() {
		return
	}
	reporterMu.RLock()
	r := reporter
	reporterMu.RUnlock()
	if r == nil || ee.IsReported() {
		return
	}
	r.ReportError(ee)
	ee.MarkReported()
}

var (
	urlQueryPattern = regexp.MustCompile(`(https?://[^\s?]+)\?\S*`)
	secretPattern   = regexp.MustCompile(`(?i)(password|token|api_key|secret)=\S+`)
)

// ScrubMessage removes query strings and credential-looking pairs before a
// message leaves the process. Queued payloads travel in query strings, so they
// are always dropped.
func ScrubMessage(msg string) string {
	msg = urlQueryPattern.ReplaceAllString(msg, "$1?[REDACTED]")
	return secretPattern.ReplaceAllString(msg, "$1=[REDACTED]")
}
