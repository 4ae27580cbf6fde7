package delivery

import (
	"context"
	"time"

	"github.com/scanrelay/scanrelay/internal/logger"
)

// DrainReport summarizes one drain pass.
type DrainReport struct {
	Batch     int           `json:"batch"`
	Delivered int           `json:"delivered"`
	Failed    int           `json:"failed"`
	Remaining int           `json:"remaining"`
	Skipped   bool          `json:"skipped"` // another drain was already running
	Duration  time.Duration `json:"duration"`
}

// Drain replays the queue through the direct transport only. The queue is
// snapshotted first; each batch item is sent in order and removed on success,
// failures stay in place and the pass continues with the next item.
// A drain requested while another is running returns immediately with Skipped set.
func (e *Engine) Drain(ctx context.Context) DrainReport {
	if !e.draining.CompareAndSwap(false, true) {
		return DrainReport{Skipped: true, Remaining: e.queue.Size()}
	}
	defer e.draining.Store(false)

	start := time.Now()
	batch := e.queue.PeekAll()
	report := DrainReport{Batch: len(batch)}

	for _, entry := range batch {
		if ctx.Err() != nil {
			break
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				break
			}
		}

		rec, err := entry.Decode()
		if err != nil {
			// Restore validates entries, so this entry was altered in the store; leave it queued.
			e.log.Warn("skipping undecodable queue entry", logger.String("entry_id", entry.ID), logger.Error(err))
			report.Failed++
			continue
		}

		if err := e.direct.Send(ctx, rec); err != nil {
			report.Failed++
			e.metrics.RecordDrainSend("failure")
			e.log.Debug("drain send failed", logger.String("entry_id", entry.ID), logger.Error(err))
			continue
		}
		report.Delivered++
		e.metrics.RecordDrainSend("success")

		// Remove the delivered entry itself; when it is the head this is head removal.
		if _, err := e.queue.Remove(entry.ID); err != nil {
			e.log.Warn("queue persistence failed after drain send", logger.Error(err))
		}
	}

	report.Remaining = e.queue.Size()
	report.Duration = time.Since(start)
	e.log.Info("queue drain finished",
		logger.Int("batch", report.Batch),
		logger.Int("delivered", report.Delivered),
		logger.Int("failed", report.Failed),
		logger.Int("remaining", report.Remaining))
	return report
}
