// Package stats reads aggregate scan counts from the collection endpoint.
package stats

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/httpclient"
	"github.com/scanrelay/scanrelay/internal/logger"
)

// DateLayout is the date format of range bounds and series points.
const DateLayout = "2006-01-02"

// ErrNoUpdate means the response must not replace the figures on display.
var ErrNoUpdate = errors.NewStd("stats response carries no update")

// Query is a stats request range.
type Query struct {
	Start    time.Time
	End      time.Time
	Grouping string
}

// Point is one day of the series.
type Point struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Result is the parsed stats response.
type Result struct {
	OK     bool    `json:"ok"`
	Total  int     `json:"total"`
	Unique int     `json:"unique"`
	Series []Point `json:"series"`
}

// Recorder receives stats fetch metrics.
type Recorder interface {
	RecordStatsFetch(result string)
}

// Aggregator issues stats queries.
type Aggregator struct {
	endpoint string
	client   *httpclient.Client
	log      logger.Logger
	now      func() time.Time
	metrics  Recorder
}

// NewAggregator creates an Aggregator for endpoint.
func NewAggregator(endpoint string, client *httpclient.Client, log logger.Logger) *Aggregator {
	if log == nil {
		log = logger.Global().Module("stats")
	}
	return &Aggregator{endpoint: endpoint, client: client, log: log, now: time.Now}
}

// SetRecorder sets the metrics recorder.
func (a *Aggregator) SetRecorder(r Recorder) { a.metrics = r }

// RangeForDays returns the range covering the last days days, today included.
func (a *Aggregator) RangeForDays(days int) Query {
	if days < 1 {
		days = 1
	}
	today := a.now()
	return Query{
		Start:    today.AddDate(0, 0, -(days - 1)),
		End:      today,
		Grouping: "daily",
	}
}

// FetchStats queries the last days days. An ok:false or malformed response
// returns ErrNoUpdate.
func (a *Aggregator) FetchStats(ctx context.Context, days int) (Result, error) {
	res, err := a.Fetch(ctx, a.RangeForDays(days))
	if a.metrics != nil {
		switch {
		case err == nil:
			a.metrics.RecordStatsFetch("success")
		case errors.Is(err, ErrNoUpdate):
			a.metrics.RecordStatsFetch("no_update")
		default:
			a.metrics.RecordStatsFetch("failure")
		}
	}
	return res, err
}

// Fetch runs one stats query. Every call carries a fresh cache-bypass token.
func (a *Aggregator) Fetch(ctx context.Context, q Query) (Result, error) {
	target, err := a.queryURL(url.Values{
		"stats": {"1"},
		"start": {q.Start.Format(DateLayout)},
		"end":   {q.End.Format(DateLayout)},
		"group": {q.Grouping},
		"_":     {uuid.NewString()},
	})
	if err != nil {
		return Result{}, err
	}

	resp, err := a.client.Get(httpclient.WithEndpoint(ctx, "stats"), target)
	if err != nil {
		return Result{}, errors.New(err).
			Component("stats").
			Category(errors.CategoryNetwork).
			NetworkContext(a.endpoint, 0).
			Build()
	}
	body, err := httpclient.ReadBody(resp.Body)
	if err != nil {
		return Result{}, errors.New(err).
			Component("stats").
			Category(errors.CategoryNetwork).
			NetworkContext(a.endpoint, 0).
			Build()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, errors.New(ErrNoUpdate).
			Component("stats").
			Category(errors.CategoryHTTP).
			NetworkContext(a.endpoint, 0).
			Context("status_code", resp.StatusCode).
			Build()
	}
	return parseResult(body)
}

func parseResult(body []byte) (Result, error) {
	var wire struct {
		OK     *bool   `json:"ok"`
		Total  int     `json:"total"`
		Unique int     `json:"unique"`
		Series []Point `json:"series"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return Result{}, errors.New(errors.Join(ErrNoUpdate, err)).
			Component("stats").
			Category(errors.CategoryParse).
			Build()
	}
	if wire.OK == nil || !*wire.OK {
		return Result{}, errors.New(ErrNoUpdate).
			Component("stats").
			Category(errors.CategoryParse).
			Build()
	}
	return Result{OK: true, Total: wire.Total, Unique: wire.Unique, Series: wire.Series}, nil
}

// ExportURL builds the CSV download URL for the range. The response is never read here.
func (a *Aggregator) ExportURL(start, end time.Time) (string, error) {
	return a.queryURL(url.Values{
		"download": {"csv"},
		"start":    {start.Format(DateLayout)},
		"end":      {end.Format(DateLayout)},
	})
}

func (a *Aggregator) queryURL(params url.Values) (string, error) {
	u, err := url.Parse(a.endpoint)
	if err != nil || a.endpoint == "" {
		return "", errors.Newf("invalid endpoint url %q", a.endpoint).
			Component("stats").
			Category(errors.CategoryConfiguration).
			Build()
	}
	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Board holds the figures currently on display.
type Board struct {
	mu        sync.RWMutex
	current   Result
	updatedAt time.Time
}

// Apply replaces the figures with res unless err is set, in which case the
// previous figures stay. It reports whether the board changed.
func (b *Board) Apply(res Result, err error) bool {
	if err != nil || !res.OK {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = res
	b.updatedAt = time.Now()
	return true
}

// Snapshot returns the figures on display and when they were last updated.
func (b *Board) Snapshot() (Result, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := b.current
	res.Series = append([]Point(nil), b.current.Series...)
	return res, b.updatedAt
}
