package logger

import "io"

// NewDiscard returns a module logger that drops everything. Intended for tests.
func NewDiscard() Logger {
	return NewWriterLogger(io.Discard, LogLevelError).Module("test")
}
