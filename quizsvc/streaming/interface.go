// Package streaming implements the Push Channel: one websocket room per
// civil date, broadcasting question-advance and progress events to every
// connected client for that day.
package streaming

import (
	"context"
	"time"
)

// Event is a published push-channel message, kept generic so the hub and
// any future non-websocket transport (e.g. a log-only publisher for tests)
// share one shape.
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Publisher fans a payload out to every subscriber of topic (here, a
// civil date's room).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close() error
}
