// Package eventbus implements the per-request, single-producer-per-stage,
// single-consumer-per-request FIFO queue that carries progress events from
// every pipeline stage to the one subscriber (the transport layer).
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"dev.helix.agent/internal/models"
)

// Watermark is the queue depth above which a warning is logged; the queue
// itself stays unbounded in principle.
const Watermark = 256

// Bus is a per-request event channel. Exactly one Subscribe call is
// expected per request; subsequent events are delivered to that single
// subscriber until Close or the terminal event is sent.
type Bus struct {
	mu       sync.Mutex
	ch       chan models.Event
	closed   bool
	traceID  string
	onWarn   func(depth int)
	lastStage time.Time
}

// New creates a Bus with the given buffer size (the FIFO is logically
// unbounded; the buffer only controls how much can be enqueued without the
// consumer draining before Publish blocks).
func New(bufferSize int, onWarn func(depth int)) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Bus{
		ch:        make(chan models.Event, bufferSize),
		traceID:   uuid.NewString(),
		onWarn:    onWarn,
		lastStage: time.Now(),
	}
}

// TraceID returns the request-scoped trace id stamped on every event.
func (b *Bus) TraceID() string { return b.traceID }

// Subscribe returns the read side of the queue for the single consumer.
func (b *Bus) Subscribe() <-chan models.Event {
	return b.ch
}

// Publish enqueues an event synchronously with respect to the emitting
// stage. It is safe for concurrent use by multiple stage goroutines as long
// as each stage only publishes its own events (single-producer-per-stage).
func (b *Bus) Publish(stage string, status models.EventStatus, payload map[string]any, elapsed time.Duration) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if stage != "heartbeat" {
		b.lastStage = time.Now()
	}
	depth := len(b.ch)
	onWarn := b.onWarn
	b.mu.Unlock()

	if depth >= Watermark && onWarn != nil {
		onWarn(depth)
	}

	ev := models.Event{
		Stage:     stage,
		Status:    status,
		Payload:   payload,
		LatencyMs: elapsed.Milliseconds(),
		Timestamp: time.Now().UTC(),
		TraceID:   b.traceID,
	}

	// The send happens under the lock so Close can never close the channel
	// out from under an in-flight Publish. The consumer side reads without
	// the lock, so a full buffer drains and the send proceeds.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.ch <- ev
}

// Done publishes the unique terminal (done, complete|error) event and
// closes the bus. It is idempotent: subsequent calls are no-ops.
func (b *Bus) Done(status models.EventStatus, payload map[string]any) {
	b.Publish("done", status, payload, 0)
	b.Close()
}

// Close stops further publishing and closes the underlying channel so the
// consumer's range loop terminates. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// RunHeartbeat emits a heartbeat event at entry and then at the configured
// interval for as long as no stage event has been published and ctx is not
// done. It must run in its own goroutine and returns when ctx is cancelled
// or the bus is closed.
func (b *Bus) RunHeartbeat(ctx context.Context, interval time.Duration) {
	b.Publish("heartbeat", models.StatusRunning, nil, 0)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			quiet := time.Since(b.lastStage)
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}
			if quiet >= interval {
				b.Publish("heartbeat", models.StatusRunning, nil, 0)
			}
		}
	}
}
