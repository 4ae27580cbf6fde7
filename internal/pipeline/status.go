package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/scanrelay/scanrelay/internal/logger"
	"github.com/scanrelay/scanrelay/internal/mqtt"
)

// PublishStatus returns an indicator observer that publishes each snapshot as
// JSON on topic. Publish failures are logged and otherwise ignored.
func PublishStatus(client mqtt.Client, topic string, log logger.Logger) func(Snapshot) {
	return func(s Snapshot) {
		if !client.IsConnected() {
			return
		}
		payload, err := json.Marshal(s)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Publish(ctx, topic, payload); err != nil {
			log.Debug("status publish failed", logger.String("topic", topic), logger.Error(err))
		}
	}
}

// LogTransitions returns an indicator observer that logs each transition.
func LogTransitions(log logger.Logger) func(Snapshot) {
	return func(s Snapshot) {
		fields := []logger.Field{
			logger.String("status", string(s.Status)),
			logger.Int("queue_size", s.QueueSize),
		}
		if s.Detail != "" {
			fields = append(fields, logger.String("detail", s.Detail))
		}
		log.Debug("status changed", fields...)
	}
}
