package delivery

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/httpclient"
	"github.com/scanrelay/scanrelay/internal/record"
)

const (
	// DefaultFallbackTimeout bounds the wait for the JSONP callback.
	DefaultFallbackTimeout = 10 * time.Second
	// DefaultMaxPayload bounds the URL-encoded payload parameter.
	DefaultMaxPayload = 1800

	callbackPrefix = "__scanrelay_cb_"
)

// callbackPattern matches a JSONP body: an optional "/**/" guard, the callback
// name and a single argument.
var callbackPattern = regexp.MustCompile(`(?s)^\s*(?:/\*\*/)?\s*(?:typeof\s+[\w$]+\s*===?\s*'function'\s*&&\s*)?([A-Za-z_$][\w$.]*)\s*\((.*)\)\s*;?\s*$`)

// callbackRegistry hands out uniquely named one-shot callbacks.
type callbackRegistry struct {
	mu      sync.Mutex
	pending map[string]*callback
}

type callback struct {
	once sync.Once
	ch   chan []byte
}

func newCallbackRegistry() *callbackRegistry {
	return &callbackRegistry{pending: make(map[string]*callback)}
}

// register returns a fresh callback name. release must be called once the
// attempt is over, whether or not the callback fired.
func (r *callbackRegistry) register() (name string, cb *callback, release func()) {
	name = callbackPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	cb = &callback{ch: make(chan []byte, 1)}

	r.mu.Lock()
	r.pending[name] = cb
	r.mu.Unlock()

	return name, cb, func() { r.remove(name) }
}

func (r *callbackRegistry) remove(name string) {
	r.mu.Lock()
	delete(r.pending, name)
	r.mu.Unlock()
}

// invoke fires the named callback with arg. The callback is torn down before
// it fires, so a second invocation finds nothing. It reports whether a callback ran.
func (r *callbackRegistry) invoke(name string, arg []byte) bool {
	r.mu.Lock()
	cb, ok := r.pending[name]
	delete(r.pending, name)
	r.mu.Unlock()
	if !ok {
		return false
	}
	fired := false
	cb.once.Do(func() {
		cb.ch <- arg
		fired = true
	})
	return fired
}

func (r *callbackRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// JSONPTransport is the fallback write path. The record travels URL-encoded in
// the payload query parameter and the endpoint answers with a script invoking
// the one-shot callback named in cb.
type JSONPTransport struct {
	url        string
	client     *httpclient.Client
	timeout    time.Duration
	maxPayload int
	callbacks  *callbackRegistry
}

// NewJSONPTransport creates the fallback transport. Zero values select defaults.
func NewJSONPTransport(endpoint string, client *httpclient.Client, timeout time.Duration, maxPayload int) *JSONPTransport {
	if timeout <= 0 {
		timeout = DefaultFallbackTimeout
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &JSONPTransport{
		url:        endpoint,
		client:     client,
		timeout:    timeout,
		maxPayload: maxPayload,
		callbacks:  newCallbackRegistry(),
	}
}

// Name implements Transport.
func (j *JSONPTransport) Name() string { return "fallback" }

// Send implements Transport.
func (j *JSONPTransport) Send(ctx context.Context, rec record.Record) error {
	if j.url == "" {
		return ErrNoEndpoint
	}
	payload := url.QueryEscape(string(rec.Bytes()))
	if len(payload) > j.maxPayload {
		return errors.New(ErrPayloadTooLarge).
			Component("delivery").
			Category(errors.CategoryFallback).
			Context("payload_length", len(payload)).
			Context("max_payload", j.maxPayload).
			Build()
	}

	name, cb, release := j.callbacks.register()
	defer release()

	// Cancelling ctx aborts the request still in flight when the wait expires.
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	target, err := j.buildURL(name, payload)
	if err != nil {
		return err
	}

	loadErr := make(chan error, 1)
	go func() {
		loadErr <- j.load(ctx, target)
	}()

	select {
	case arg := <-cb.ch:
		return checkAck(arg)
	case err := <-loadErr:
		// The script may have invoked the callback just before load returned.
		select {
		case arg := <-cb.ch:
			return checkAck(arg)
		default:
		}
		if err == nil {
			err = errors.Newf("script did not invoke callback %s", name).
				Component("delivery").
				Category(errors.CategoryFallback).
				Build()
		}
		return err
	case <-ctx.Done():
		return errors.New(ErrCallbackTimeout).
			Component("delivery").
			Category(errors.CategoryFallback).
			NetworkContext(j.url, j.timeout).
			Build()
	}
}

func (j *JSONPTransport) buildURL(callbackName, encodedPayload string) (string, error) {
	u, err := url.Parse(j.url)
	if err != nil {
		return "", errors.New(err).
			Component("delivery").
			Category(errors.CategoryConfiguration).
			Build()
	}
	q := u.Query()
	q.Set("mode", "jsonp")
	q.Set("cb", callbackName)
	u.RawQuery = q.Encode() + "&payload=" + encodedPayload
	return u.String(), nil
}

// load fetches the script and evaluates it against the callback registry.
func (j *JSONPTransport) load(ctx context.Context, target string) error {
	resp, err := j.client.Get(httpclient.WithEndpoint(ctx, "jsonp"), target)
	if err != nil {
		return errors.New(err).
			Component("delivery").
			Category(errors.CategoryFallback).
			NetworkContext(j.url, j.timeout).
			Context("transport", "fallback").
			Build()
	}
	body, err := httpclient.ReadBody(resp.Body)
	if err != nil {
		return errors.New(err).
			Component("delivery").
			Category(errors.CategoryFallback).
			NetworkContext(j.url, j.timeout).
			Build()
	}
	if !statusOK(resp.StatusCode) {
		return errors.Newf("script load failed with status %d", resp.StatusCode).
			Component("delivery").
			Category(errors.CategoryFallback).
			NetworkContext(j.url, j.timeout).
			Build()
	}

	m := callbackPattern.FindSubmatch(body)
	if m == nil {
		return errors.New(ErrUnparseableResponse).
			Component("delivery").
			Category(errors.CategoryParse).
			Context("body", truncate(string(body), 200)).
			Build()
	}
	j.callbacks.invoke(string(m[1]), m[2])
	return nil
}
