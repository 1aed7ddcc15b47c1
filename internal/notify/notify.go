// Package notify is the fire-and-forget notification dispatcher. Events are
// delivered to handlers on a single background goroutine; when the buffer is
// full the event is dropped and counted rather than blocking the caller.
package notify

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/joshuahuffman02/Keepr-sub004/pkg/booking"
)

const defaultBuffer = 256

// Handler consumes one delivered event.
type Handler func(event booking.Event)

// Dispatcher implements booking.EventPublisher.
type Dispatcher struct {
	logger   *zap.Logger
	handlers []Handler
	events   chan booking.Event
	done     chan struct{}
	closed   atomic.Bool
	dropped  atomic.Int64
}

// NewDispatcher starts the delivery goroutine. A non-positive buffer falls
// back to the default.
func NewDispatcher(logger *zap.Logger, buffer int, handlers ...Handler) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	dispatcher := &Dispatcher{
		logger:   logger,
		handlers: handlers,
		events:   make(chan booking.Event, buffer),
		done:     make(chan struct{}),
	}
	go dispatcher.run()
	return dispatcher
}

// Publish enqueues the event without blocking. Events offered after Close,
// or while the buffer is full, are dropped.
func (dispatcher *Dispatcher) Publish(event booking.Event) {
	if dispatcher.closed.Load() {
		dispatcher.dropped.Add(1)
		return
	}
	select {
	case dispatcher.events <- event:
	default:
		dispatcher.dropped.Add(1)
		dispatcher.logger.Warn("event dropped",
			zap.String("event", event.Name),
			zap.String("tenant_id", event.TenantID),
			zap.String("reservation_id", event.ReservationID),
		)
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (dispatcher *Dispatcher) Dropped() int64 {
	return dispatcher.dropped.Load()
}

// Close stops accepting events and waits for the queue to drain. Close is
// not safe to call concurrently with Publish.
func (dispatcher *Dispatcher) Close() {
	if dispatcher.closed.Swap(true) {
		return
	}
	close(dispatcher.events)
	<-dispatcher.done
}

func (dispatcher *Dispatcher) run() {
	defer close(dispatcher.done)
	for event := range dispatcher.events {
		for _, handler := range dispatcher.handlers {
			handler(event)
		}
		dispatcher.logger.Info("event delivered",
			zap.String("event", event.Name),
			zap.String("tenant_id", event.TenantID),
			zap.String("reservation_id", event.ReservationID),
			zap.Int64("amount_cents", event.AmountCents),
		)
	}
}
