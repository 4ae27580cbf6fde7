package delivery

import "github.com/scanrelay/scanrelay/internal/errors"

var (
	// ErrRejected means the endpoint answered but did not acknowledge with ok:true.
	ErrRejected = errors.NewStd("endpoint did not acknowledge the record")
	// ErrUnparseableResponse means the acknowledgement could not be decoded.
	ErrUnparseableResponse = errors.NewStd("unparseable endpoint response")
	// ErrCallbackTimeout means the fallback callback did not fire in time.
	ErrCallbackTimeout = errors.NewStd("fallback callback timed out")
	// ErrPayloadTooLarge means the encoded record exceeds the fallback parameter bound.
	ErrPayloadTooLarge = errors.NewStd("payload exceeds fallback parameter limit")
	// ErrNoEndpoint means no endpoint URL is configured.
	ErrNoEndpoint = errors.NewStd("no endpoint configured")
)
