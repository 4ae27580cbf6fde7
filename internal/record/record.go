// Package record builds the immutable delivery record sent to the collection endpoint.
package record

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/scanrelay/scanrelay/internal/conf"
	"github.com/scanrelay/scanrelay/internal/detection"
	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/geo"
)

// TimestampLayout is the ISO-8601 UTC layout used for client_ts.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Fields is the wire shape of a delivery record.
type Fields struct {
	Exhibition string   `json:"exhibition"`
	Venue      string   `json:"venue"`
	ClientTS   string   `json:"client_ts"`
	Data       string   `json:"data"`
	DataType   string   `json:"data_type"`
	Origin     string   `json:"ua"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
}

// Record is a serialized delivery record. The bytes are fixed at construction
// and every retry sends them unchanged.
type Record struct {
	fields Fields
	raw    []byte
}

// New serializes f into a Record.
func New(f Fields) (Record, error) {
	if f.Data == "" {
		return Record{}, errors.Newf("record data must not be empty").
			Component("record").
			Category(errors.CategoryValidation).
			Build()
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return Record{}, errors.New(err).Component("record").Category(errors.CategoryValidation).Build()
	}
	return Record{fields: f, raw: raw}, nil
}

// FromBytes restores a Record from its serialized form, keeping raw verbatim.
func FromBytes(raw []byte) (Record, error) {
	var f Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return Record{}, errors.New(err).
			Component("record").
			Category(errors.CategoryPersistence).
			Build()
	}
	if f.Data == "" {
		return Record{}, errors.Newf("stored record has no data").
			Component("record").
			Category(errors.CategoryPersistence).
			Build()
	}
	return Record{fields: f, raw: bytes.Clone(raw)}, nil
}

// Bytes returns a copy of the serialized record.
func (r Record) Bytes() []byte { return bytes.Clone(r.raw) }

// Fields returns the decoded record fields.
func (r Record) Fields() Fields {
	f := r.fields
	if f.Lat != nil {
		lat := *f.Lat
		f.Lat = &lat
	}
	if f.Lng != nil {
		lng := *f.Lng
		f.Lng = &lng
	}
	return f
}

func (r Record) Data() string     { return r.fields.Data }
func (r Record) DataType() string { return r.fields.DataType }

// IsZero reports whether r was never constructed.
func (r Record) IsZero() bool { return len(r.raw) == 0 }

// Builder assembles records from the configured context labels, the client
// origin and an optional location lookup.
type Builder struct {
	Exhibition string
	Venue      string
	Origin     string
	Locator    geo.Locator
	Now        func() time.Time
}

// NewBuilder creates a Builder from settings. The locator is already bounded.
func NewBuilder(settings *conf.Settings, locator geo.Locator) *Builder {
	return &Builder{
		Exhibition: settings.Context.Exhibition,
		Venue:      settings.Context.Venue,
		Origin:     settings.Main.Origin,
		Locator:    locator,
	}
}

// FromDetection builds a record for a captured detection.
func (b *Builder) FromDetection(ctx context.Context, d detection.Detection) (Record, error) {
	return b.Build(ctx, d.Text, string(d.Format))
}

// Manual builds a record for text submitted outside the scan flow.
func (b *Builder) Manual(ctx context.Context, text string) (Record, error) {
	return b.Build(ctx, strings.TrimSpace(text), detection.DataTypeManual)
}

// Build creates a record stamped with the current time.
func (b *Builder) Build(ctx context.Context, data, dataType string) (Record, error) {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}

	f := Fields{
		Exhibition: labelOrUnnamed(b.Exhibition),
		Venue:      labelOrUnnamed(b.Venue),
		ClientTS:   now().UTC().Format(TimestampLayout),
		Data:       data,
		DataType:   dataType,
		Origin:     b.Origin,
	}
	if b.Locator != nil {
		if loc, ok := b.Locator.Locate(ctx); ok {
			f.Lat, f.Lng = &loc.Lat, &loc.Lng
		}
	}
	return New(f)
}

func labelOrUnnamed(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return conf.UnnamedLabel
	}
	return s
}
