package pipeline

import (
	"sync"
	"time"
)

// Status is the last transition shown on the status surface.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusSending     Status = "sending"
	StatusDelivered   Status = "delivered"
	StatusQueued      Status = "queued"
	StatusSyncing     Status = "syncing"
	StatusSynced      Status = "synced"
	StatusQueueEmpty  Status = "queue-empty"
	StatusEngineError Status = "engine-error"
)

// Snapshot is the indicator state. QueueSize is read from the durable queue at
// snapshot time.
type Snapshot struct {
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	QueueSize int       `json:"queue_size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Indicator records the last status transition and notifies observers.
type Indicator struct {
	mu        sync.Mutex
	status    Status
	detail    string
	updatedAt time.Time
	queueSize func() int
	observers []func(Snapshot)
}

// NewIndicator creates an idle indicator. queueSize supplies the durable
// queue length.
func NewIndicator(queueSize func() int) *Indicator {
	return &Indicator{status: StatusIdle, updatedAt: time.Now(), queueSize: queueSize}
}

// Observe registers fn to receive every transition.
func (i *Indicator) Observe(fn func(Snapshot)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.observers = append(i.observers, fn)
}

// Set records a transition.
func (i *Indicator) Set(status Status, detail string) {
	i.mu.Lock()
	i.status, i.detail, i.updatedAt = status, detail, time.Now()
	snap := i.snapshotLocked()
	observers := append([]func(Snapshot){}, i.observers...)
	i.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

// Snapshot returns the current state.
func (i *Indicator) Snapshot() Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.snapshotLocked()
}

func (i *Indicator) snapshotLocked() Snapshot {
	s := Snapshot{Status: i.status, Detail: i.detail, UpdatedAt: i.updatedAt}
	if i.queueSize != nil {
		s.QueueSize = i.queueSize()
	}
	return s
}
