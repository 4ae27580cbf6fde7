// Package queue implements the durable FIFO of undelivered records.
//
// The whole queue is serialized under one key of a Store and rewritten
// synchronously after every mutation, inside the same critical section as the
// in-memory change.
package queue

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scanrelay/scanrelay/internal/errors"
	"github.com/scanrelay/scanrelay/internal/logger"
	"github.com/scanrelay/scanrelay/internal/record"
)

// DefaultKey is the durable key holding the queue contents.
const DefaultKey = "scan_queue"

// Entry is one queued record. Record holds the serialized record verbatim.
type Entry struct {
	ID         string    `json:"id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Record     string    `json:"record"`
}

// Decode restores the record carried by e.
func (e Entry) Decode() (record.Record, error) {
	return record.FromBytes([]byte(e.Record))
}

// Queue is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	store   Store
	key     string
	entries []Entry
	log     logger.Logger

	observer func(size int)
	now      func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithObserver registers fn to be called with the new size after each mutation.
func WithObserver(fn func(size int)) Option {
	return func(q *Queue) { q.observer = fn }
}

// WithLogger sets the queue logger.
func WithLogger(l logger.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// Open restores the queue stored under key. Missing, unreadable or malformed
// state yields an empty queue; Open never fails.
func Open(store Store, key string, opts ...Option) *Queue {
	if key == "" {
		key = DefaultKey
	}
	q := &Queue{store: store, key: key, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	if q.log == nil {
		q.log = logger.Global().Module("queue")
	}
	q.entries = q.restore()
	q.log.Info("durable queue restored", logger.String("key", key), logger.Int("size", len(q.entries)))
	q.notify()
	return q
}

func (q *Queue) restore() []Entry {
	data, err := q.store.Load(q.key)
	if err != nil {
		q.log.Warn("queue state unreadable, starting empty", logger.Error(err))
		return nil
	}
	if len(data) == 0 {
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		q.log.Warn("queue state malformed, starting empty", logger.Error(err))
		return nil
	}
	valid := entries[:0]
	for _, e := range entries {
		if _, err := e.Decode(); err != nil {
			q.log.Warn("dropping malformed queue entry", logger.String("id", e.ID), logger.Error(err))
			continue
		}
		valid = append(valid, e)
	}
	return valid
}

// persist must be called with q.mu held.
func (q *Queue) persist() error {
	entries := q.entries
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return errors.New(err).Component("queue").Category(errors.CategoryPersistence).Build()
	}
	if err := q.store.Save(q.key, data); err != nil {
		return errors.New(err).
			Component("queue").
			Category(errors.CategoryPersistence).
			Context("key", q.key).
			Context("size", len(entries)).
			Build()
	}
	return nil
}

func (q *Queue) notify() {
	if q.observer != nil {
		q.observer(len(q.entries))
	}
}

// Enqueue appends rec. The in-memory queue keeps the record even when the
// store write fails; the error is returned so the caller can log it.
func (q *Queue) Enqueue(rec record.Record) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := Entry{
		ID:         uuid.NewString(),
		EnqueuedAt: q.now().UTC(),
		Record:     string(rec.Bytes()),
	}
	q.entries = append(q.entries, e)
	err := q.persist()
	q.notify()
	return e, err
}

// PeekAll returns a snapshot of the queue in order.
func (q *Queue) PeekAll() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.entries)
}

// RemoveFront drops the head of the queue. It is a no-op on an empty queue.
func (q *Queue) RemoveFront() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil
	}
	q.entries = slices.Delete(q.entries, 0, 1)
	err := q.persist()
	q.notify()
	return err
}

// Remove drops the entry with id. It reports whether the entry was present.
func (q *Queue) Remove(id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := slices.IndexFunc(q.entries, func(e Entry) bool { return e.ID == id })
	if i < 0 {
		return false, nil
	}
	q.entries = slices.Delete(q.entries, i, i+1)
	err := q.persist()
	q.notify()
	return true, err
}

// Size returns the number of queued records.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close closes the underlying store.
func (q *Queue) Close() error {
	return q.store.Close()
}
