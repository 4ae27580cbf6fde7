package pipeline

import (
	"sync"
	"time"

	"github.com/scanrelay/scanrelay/internal/detection"
)

// Scan is one accepted or submitted payload and what happened to it.
type Scan struct {
	Text     string         `json:"text"`
	DataType string         `json:"data_type"`
	Kind     detection.Kind `json:"kind"`
	At       time.Time      `json:"at"`
	Outcome  string         `json:"outcome,omitempty"`
}

// History keeps the most recent scans, newest first.
type History struct {
	mu    sync.Mutex
	limit int
	items []Scan
}

// NewHistory creates a history holding at most limit scans. Zero disables it.
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// add records s as the newest scan.
func (h *History) add(s Scan) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.limit <= 0 {
		return
	}
	h.items = append([]Scan{s}, h.items...)
	if len(h.items) > h.limit {
		h.items = h.items[:h.limit]
	}
}

// setOutcome records the delivery outcome of the scan captured at at.
func (h *History) setOutcome(text string, at time.Time, outcome string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.items {
		if h.items[i].Text == text && h.items[i].At.Equal(at) {
			h.items[i].Outcome = outcome
			return
		}
	}
}

// List returns a copy of the scans, newest first.
func (h *History) List() []Scan {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Scan(nil), h.items...)
}
