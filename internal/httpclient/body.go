package httpclient

import (
	"context"
	"io"
)

// cancelOnClose releases the default-timeout context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// maxBodyBytes bounds how much of a response the transports will read.
const maxBodyBytes = 1 << 20

// ReadBody reads at most 1 MiB of the response body and closes it.
func ReadBody(body io.ReadCloser) ([]byte, error) {
	defer body.Close()
	return io.ReadAll(io.LimitReader(body, maxBodyBytes))
}
