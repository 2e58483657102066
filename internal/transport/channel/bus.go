// Package channel provides the in-memory event bus that serializes all
// scheduler input into a single queue.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/dfaust/backup-monitor/internal/domain"
)

// ErrBufferFull is returned when an emit cannot be buffered within the
// configured emit timeout.
var ErrBufferFull = errors.New("event bus buffer full")

// MetricsSink records bus health. All methods must be non-blocking.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

type Option func(*EventBus)

// WithEmitTimeout bounds how long Emit blocks on a full buffer before
// returning ErrBufferFull. Zero means block until the context is done.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) {
		b.emitTimeout = d
	}
}

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = sink
	}
}

// EventBus is a bounded in-memory queue of scheduler events. Producers
// (watchers, the process runner, user commands) emit; the scheduler is the
// single consumer.
type EventBus struct {
	ch          chan domain.Event
	emitTimeout time.Duration
	metrics     MetricsSink
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch: make(chan domain.Event, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues an event. It blocks until the event is buffered, the
// context is done, or the emit timeout elapses.
func (b *EventBus) Emit(ctx context.Context, event domain.Event) error {
	var timeout <-chan time.Time
	if b.emitTimeout > 0 {
		timer := time.NewTimer(b.emitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case b.ch <- event:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	case <-timeout:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

func (b *EventBus) Channel() <-chan domain.Event {
	return b.ch
}
