// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateCaptureSettings,
		validateEndpointSettings,
		validateQueueSettings,
		validateLocationSettings,
		validateStatsSettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateCaptureSettings(s *Settings) []string {
	var errs []string
	if !slices.Contains([]string{"qr", "barcode"}, s.Capture.Mode) {
		errs = append(errs, fmt.Sprintf("capture.mode must be qr or barcode, got %q", s.Capture.Mode))
	}
	if !slices.Contains([]string{"line", "mqtt"}, s.Capture.Source) {
		errs = append(errs, fmt.Sprintf("capture.source must be line or mqtt, got %q", s.Capture.Source))
	}
	if s.Capture.Source == "mqtt" && s.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when capture.source is mqtt")
	}
	if s.Capture.History < 0 {
		errs = append(errs, "capture.history must not be negative")
	}
	return errs
}

func validateEndpointSettings(s *Settings) []string {
	var errs []string
	// An empty URL is allowed: every send fails and records accumulate in the queue.
	if s.Endpoint.URL != "" {
		u, err := url.Parse(s.Endpoint.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("endpoint.url must be an absolute http(s) URL, got %q", s.Endpoint.URL))
		}
	}
	if s.Endpoint.Timeout < 0 {
		errs = append(errs, "endpoint.timeout must not be negative")
	}
	if s.Endpoint.Fallback.Enabled {
		if s.Endpoint.Fallback.Timeout <= 0 {
			errs = append(errs, "endpoint.fallback.timeout must be positive")
		}
		if s.Endpoint.Fallback.MaxPayload <= 0 {
			errs = append(errs, "endpoint.fallback.maxpayload must be positive")
		}
	}
	return errs
}

func validateQueueSettings(s *Settings) []string {
	var errs []string
	switch s.Queue.Backend {
	case "file", "sqlite":
		if s.Queue.Path == "" {
			errs = append(errs, fmt.Sprintf("queue.path is required for the %s backend", s.Queue.Backend))
		}
	case "mysql":
		if s.Queue.DSN == "" {
			errs = append(errs, "queue.dsn is required for the mysql backend")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("queue.backend must be file, sqlite, mysql or memory, got %q", s.Queue.Backend))
	}
	if s.Queue.Key == "" {
		errs = append(errs, "queue.key must not be empty")
	}
	if s.Queue.Drain.Interval < 0 || s.Queue.Drain.RateLimit < 0 {
		errs = append(errs, "queue.drain values must not be negative")
	}
	return errs
}

func validateLocationSettings(s *Settings) []string {
	if !s.Location.Enabled {
		return nil
	}
	var errs []string
	switch s.Location.Provider {
	case "static":
		if s.Location.Latitude < -90 || s.Location.Latitude > 90 {
			errs = append(errs, "location.latitude must be between -90 and 90")
		}
		if s.Location.Longitude < -180 || s.Location.Longitude > 180 {
			errs = append(errs, "location.longitude must be between -180 and 180")
		}
	case "http":
		if s.Location.URL == "" {
			errs = append(errs, "location.url is required for the http provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("location.provider must be static or http, got %q", s.Location.Provider))
	}
	if s.Location.Timeout <= 0 {
		errs = append(errs, "location.timeout must be positive")
	}
	return errs
}

func validateStatsSettings(s *Settings) []string {
	if s.Stats.Days < 1 {
		return []string{"stats.days must be at least 1"}
	}
	return nil
}
