package capture

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/scanrelay/scanrelay/internal/detection"
	"github.com/scanrelay/scanrelay/internal/errors"
)

// StdinDevice selects standard input as the line device.
const StdinDevice = "-"

// Opener opens a line device.
type Opener func(device string) (io.ReadCloser, error)

// OpenDevice opens a file path, or standard input for "-". Standard input is
// never closed by the engine.
func OpenDevice(device string) (io.ReadCloser, error) {
	if device == "" || device == StdinDevice {
		return stdinReader{os.Stdin}, nil
	}
	return os.Open(device)
}

// stdinReader is a device whose reads cannot be interrupted by Close.
type stdinReader struct{ io.Reader }

func (stdinReader) Close() error { return nil }

// LineEngine reads decoder output, one result per line:
//
//	text[<TAB>format[<TAB>key=value;key=value]]
//
// For the 2D engine the format column is a native format name or ordinal, for
// the 1D engine it is the reader name. The optional third column is metadata.
type LineEngine struct {
	kind detection.EngineKind
	open Opener

	mu   sync.Mutex
	rc   io.ReadCloser
	stop chan struct{}
	done chan struct{}
	now  func() time.Time
}

// NewLineEngine creates a line engine of kind. A nil open uses OpenDevice.
func NewLineEngine(kind detection.EngineKind, open Opener) *LineEngine {
	if open == nil {
		open = OpenDevice
	}
	return &LineEngine{kind: kind, open: open, now: time.Now}
}

// LineFactory returns a Factory producing line engines that share open.
func LineFactory(open Opener) Factory {
	return func(kind detection.EngineKind) (Engine, error) {
		return NewLineEngine(kind, open), nil
	}
}

// Kind implements Engine.
func (l *LineEngine) Kind() detection.EngineKind { return l.kind }

// Start implements Engine.
func (l *LineEngine) Start(_ context.Context, device string, out chan<- detection.RawResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rc != nil {
		return errors.Newf("line engine already started").
			Component("capture").
			Category(errors.CategoryState).
			Build()
	}

	rc, err := l.open(device)
	if err != nil {
		return err
	}
	l.rc = rc
	l.stop = make(chan struct{})
	l.done = make(chan struct{})

	go l.read(rc, out, l.stop, l.done)
	return nil
}

func (l *LineEngine) read(r io.Reader, out chan<- detection.RawResult, stop, done chan struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		raw, ok := l.parse(scanner.Text())
		if !ok {
			continue
		}
		select {
		case out <- raw:
		case <-stop:
			return
		}
	}
}

func (l *LineEngine) parse(line string) (detection.RawResult, bool) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return detection.RawResult{}, false
	}
	cols := strings.SplitN(line, "\t", 3)
	raw := detection.RawResult{Engine: l.kind, Text: cols[0], At: l.now()}
	if len(cols) > 1 {
		raw.Format = strings.TrimSpace(cols[1])
	}
	if len(cols) > 2 {
		raw.Metadata = parseMetadata(cols[2])
	}
	return raw, true
}

func parseMetadata(s string) map[string]string {
	md := make(map[string]string)
	for pair := range strings.SplitSeq(s, ";") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		md[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return md
}

// Stop implements Engine. It waits for the reader goroutine only when the
// device could be closed; a blocked read on standard input is abandoned.
func (l *LineEngine) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rc == nil {
		return nil
	}
	close(l.stop)
	err := l.rc.Close()
	if _, isStdin := l.rc.(stdinReader); !isStdin {
		<-l.done
	}
	l.rc = nil
	return err
}
