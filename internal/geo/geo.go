// Package geo provides the best-effort location lookup attached to delivery
// records. Lookups never fail a delivery: any error or timeout yields no location.
package geo

import (
	"context"
	"net/http"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/patrickmn/go-cache"

	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/httpclient"
	"github.com/scanrelay/scanrelay/internal/logger"
)

// DefaultTimeout bounds a single lookup.
const DefaultTimeout = 3 * time.Second

const cacheKey = "position"

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64
	Lng float64
}

// Locator resolves the current location. ok is false when no location is available.
type Locator interface {
	Locate(ctx context.Context) (loc Location, ok bool)
}

// Static always reports the configured coordinates.
type Static struct {
	Location Location
}

// Locate implements Locator.
func (s Static) Locate(context.Context) (Location, bool) {
	return s.Location, true
}

// None never reports a location.
type None struct{}

// Locate implements Locator.
func (None) Locate(context.Context) (Location, bool) {
	return Location{}, false
}

// HTTPLocator queries a JSON location service. Responses may carry either
// lat/lng or latitude/longitude keys. Successful answers are cached for ttl.
type HTTPLocator struct {
	url     string
	client  *httpclient.Client
	timeout time.Duration
	cache   *cache.Cache
	log     logger.Logger
}

// NewHTTPLocator creates a locator for url. A zero timeout uses DefaultTimeout.
func NewHTTPLocator(url string, client *httpclient.Client, timeout, ttl time.Duration, log logger.Logger) *HTTPLocator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = logger.Global().Module("geo")
	}
	return &HTTPLocator{
		url:     url,
		client:  client,
		timeout: timeout,
		cache:   cache.New(ttl, ttl*2),
		log:     log,
	}
}

// Locate implements Locator.
func (h *HTTPLocator) Locate(ctx context.Context) (Location, bool) {
	if cached, found := h.cache.Get(cacheKey); found {
		if loc, ok := cached.(Location); ok {
			return loc, true
		}
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	loc, err := h.fetch(ctx)
	if err != nil {
		h.log.Debug("location lookup failed", logger.Error(err))
		return Location{}, false
	}
	h.cache.Set(cacheKey, loc, cache.DefaultExpiration)
	return loc, true
}

func (h *HTTPLocator) fetch(ctx context.Context) (Location, error) {
	resp, err := h.client.Get(httpclient.WithEndpoint(ctx, "geo"), h.url)
	if err != nil {
		return Location{}, errors.New(err).
			Component("geo").
			Category(errors.CategoryNetwork).
			NetworkContext(h.url, h.timeout).
			Build()
	}
	body, err := httpclient.ReadBody(resp.Body)
	if err != nil {
		return Location{}, errors.New(err).
			Component("geo").
			Category(errors.CategoryNetwork).
			NetworkContext(h.url, h.timeout).
			Build()
	}
	if resp.StatusCode != http.StatusOK {
		return Location{}, errors.Newf("location service returned status %d", resp.StatusCode).
			Component("geo").
			Category(errors.CategoryHTTP).
			NetworkContext(h.url, h.timeout).
			Build()
	}
	return parseLocation(body)
}

func parseLocation(body []byte) (Location, error) {
	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return Location{}, errors.New(err).Component("geo").Category(errors.CategoryParse).Build()
	}
	for _, keys := range [][2]string{{"lat", "lng"}, {"latitude", "longitude"}} {
		lat, errLat := obj.GetFloat64(keys[0])
		lng, errLng := obj.GetFloat64(keys[1])
		if errLat == nil && errLng == nil {
			if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
				return Location{}, errors.Newf("coordinates out of range: %f,%f", lat, lng).
					Component("geo").
					Category(errors.CategoryParse).
					Build()
			}
			return Location{Lat: lat, Lng: lng}, nil
		}
	}
	return Location{}, errors.Newf("no coordinates in location response").
		Component("geo").
		Category(errors.CategoryParse).
		Build()
}

// Bounded wraps a Locator so that every lookup is cut off after timeout.
func Bounded(l Locator, timeout time.Duration) Locator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &bounded{inner: l, timeout: timeout}
}

type bounded struct {
	inner   Locator
	timeout time.Duration
}

type locateResult struct {
	loc Location
	ok  bool
}

func (b *bounded) Locate(ctx context.Context) (Location, bool) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	ch := make(chan locateResult, 1)
	go func() {
		loc, ok := b.inner.Locate(ctx)
		ch <- locateResult{loc, ok}
	}()

	select {
	case r := <-ch:
		return r.loc, r.ok
	case <-ctx.Done():
		return Location{}, false
	}
}
