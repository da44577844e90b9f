package lifecycle

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/kafka"
)

// Lifecycle event types.
const (
	EventIndexRebuilt  = "index.rebuilt"
	EventGraphReady    = "graph.ready"
	EventRankReady     = "rank.ready"
	EventStageDegraded = "stage.degraded"
)

// Event is the payload published for lifecycle transitions.
type Event struct {
	Stage     string    `json:"stage"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	Rows      int       `json:"rows,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

func (c *Coordinator) emit(ctx context.Context, eventType string, ev Event) {
	if c.publisher == nil {
		return
	}
	ev.Timestamp = c.now().UTC()
	err := c.publisher.Publish(ctx, kafka.Event{Key: ev.Stage, Type: eventType, Value: ev})
	if err != nil {
		c.logger.Warn("failed to publish lifecycle event", "type", eventType, "stage", ev.Stage, "error", err)
	}
}
