package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/book-search-platform/pkg/kafka"
)

// BatchPublisher is satisfied by *kafka.Producer.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Collector records search events into an optional local Aggregator and
// ships them to Kafka in batches, flushing when a batch fills or the flush
// interval passes.
type Collector struct {
	producer      BatchPublisher
	local         *Aggregator
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
	started       bool
}

// NewCollector creates a Collector. producer and local may each be nil.
func NewCollector(producer BatchPublisher, local *Aggregator, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		producer:      producer,
		local:         local,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop; it stops when ctx is cancelled
// after a final flush.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track records event. It never blocks on Kafka.
func (c *Collector) Track(event SearchEvent) {
	if c.local != nil {
		c.local.Record(event)
	}
	if c.producer == nil {
		return
	}
	c.mu.Lock()
	c.buffer = append(c.buffer, kafka.Event{Key: event.Kind, Type: EventSearch, Value: event})
	shouldFlush := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if shouldFlush {
		go c.flush(context.Background())
	}
}

// Close waits for the flush loop started by Start to finish.
func (c *Collector) Close() {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.done
	}
}

// BufferLen returns the number of events waiting for Kafka.
func (c *Collector) BufferLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 || c.producer == nil {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	c.mu.Unlock()

	if err := c.producer.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("batch flush failed", "batch_size", len(batch), "error", err)
		// requeue, keeping at most three batches
		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		if limit := c.batchSize * 3; len(c.buffer) > limit {
			dropped := len(c.buffer) - limit
			c.buffer = c.buffer[:limit]
			c.logger.Warn("buffer overflow, events dropped", "dropped", dropped)
		}
		c.mu.Unlock()
		return
	}
	c.logger.Debug("batch flushed", "events", len(batch))
}
