package detection

import (
	"net/mail"
	"net/url"
	"strings"
)

// Kind is a coarse label for what a payload contains.
type Kind string

const (
	KindURL     Kind = "url"
	KindEmail   Kind = "email"
	KindTel     Kind = "tel"
	KindWiFi    Kind = "wifi"
	KindGeo     Kind = "geo"
	KindNumeric Kind = "numeric"
	KindText    Kind = "text"
)

// Classify labels a payload for display. It never influences the record's dataType.
func Classify(text string) Kind {
	t := strings.TrimSpace(text)
	lower := strings.ToLower(t)

	switch {
	case strings.HasPrefix(lower, "wifi:"):
		return KindWiFi
	case strings.HasPrefix(lower, "tel:"):
		return KindTel
	case strings.HasPrefix(lower, "geo:"):
		return KindGeo
	case strings.HasPrefix(lower, "mailto:"):
		return KindEmail
	}

	if u, err := url.Parse(t); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return KindURL
	}
	if !strings.ContainsAny(t, " \t") && strings.Count(t, "@") == 1 {
		if _, err := mail.ParseAddress(t); err == nil {
			return KindEmail
		}
	}
	if t != "" && strings.Trim(t, "0123456789") == "" {
		return KindNumeric
	}
	return KindText
}
