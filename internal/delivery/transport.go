// Package delivery sends records to the collection endpoint. A direct POST is
// tried first, then the JSONP fallback, and records that cannot be delivered
// are parked in the durable queue for a later drain.
package delivery

import (
	"context"
	"net/http"
	"strings"

	"github.com/antonholmquist/jason"

	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/httpclient"
	"github.com/scanrelay/scanrelay/internal/record"
)

// Transport sends one serialized record. A nil error means the endpoint acknowledged it.
type Transport interface {
	Name() string
	Send(ctx context.Context, rec record.Record) error
}

// DirectTransport POSTs the record as JSON and expects {"ok":true}.
type DirectTransport struct {
	url    string
	client *httpclient.Client
}

// NewDirectTransport creates a DirectTransport for endpoint.
func NewDirectTransport(endpoint string, client *httpclient.Client) *DirectTransport {
	return &DirectTransport{url: endpoint, client: client}
}

// Name implements Transport.
func (d *DirectTransport) Name() string { return "direct" }

// Send implements Transport. Network failures, non-2xx statuses and bodies
// other than {"ok":true} all fail the attempt.
func (d *DirectTransport) Send(ctx context.Context, rec record.Record) error {
	if d.url == "" {
		return ErrNoEndpoint
	}
	resp, err := d.client.PostJSON(httpclient.WithEndpoint(ctx, "write"), d.url, rec.Bytes())
	if err != nil {
		return errors.New(err).
			Component("delivery").
			Category(errors.CategoryNetwork).
			NetworkContext(d.url, 0).
			Context("transport", "direct").
			Build()
	}
	body, err := httpclient.ReadBody(resp.Body)
	if err != nil {
		return errors.New(err).
			Component("delivery").
			Category(errors.CategoryNetwork).
			NetworkContext(d.url, 0).
			Context("transport", "direct").
			Build()
	}
	if !statusOK(resp.StatusCode) {
		return errors.Newf("endpoint returned status %d", resp.StatusCode).
			Component("delivery").
			Category(errors.CategoryHTTP).
			NetworkContext(d.url, 0).
			Context("transport", "direct").
			Build()
	}
	return checkAck(body)
}

// checkAck validates an acknowledgement object.
func checkAck(body []byte) error {
	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return errors.New(errors.Join(ErrUnparseableResponse, err)).
			Component("delivery").
			Category(errors.CategoryParse).
			Context("body", truncate(string(body), 200)).
			Build()
	}
	ok, err := obj.GetBoolean("ok")
	if err != nil {
		return errors.New(errors.Join(ErrUnparseableResponse, err)).
			Component("delivery").
			Category(errors.CategoryParse).
			Build()
	}
	if !ok {
		msg, _ := obj.GetString("error")
		return errors.New(ErrRejected).
			Component("delivery").
			Category(errors.CategoryHTTP).
			Context("reason", msg).
			Build()
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func statusOK(code int) bool { return code >= http.StatusOK && code < http.StatusMultipleChoices }
