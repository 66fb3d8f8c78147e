package event

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type identifies a category of event.
type Type string

// Scan lifecycle event types.
const (
	ScanStarted   Type = "scan.started"
	ScanCompleted Type = "scan.completed"
	ScanReset     Type = "scan.reset"
)

// Types lists every event type the device emits.
func Types() []Type {
	return []Type{ScanStarted, ScanCompleted, ScanReset}
}

// Event represents a transition of the simulated device.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler processes one event.
type Handler func(Event)

// Bus is an in-process event bus backed by a buffered channel. Publishers
// never block; subscribers run sequentially on the Run goroutine.
type Bus struct {
	ch     chan Event
	mu     sync.RWMutex
	subs   map[Type][]Handler
	logger *slog.Logger
}

// NewBus creates a bus with the given buffer size.
func NewBus(logger *slog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{
		ch:     make(chan Event, bufSize),
		subs:   make(map[Type][]Handler),
		logger: logger.With(slog.String("component", "event-bus")),
	}
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// SubscribeAll registers h for every known event type.
func (b *Bus) SubscribeAll(h Handler) {
	for _, t := range Types() {
		b.Subscribe(t, h)
	}
}

// Publish enqueues e. If the buffer is full the event is dropped and a
// warning is logged.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case b.ch <- e:
	default:
		b.logger.Warn("event bus full, dropping event", slog.String("type", string(e.Type)))
	}
}

// Run dispatches events until ctx is canceled, then drains whatever is
// still buffered before returning.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-b.ch:
					b.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	handlers := b.subs[e.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", "type", string(e.Type), "panic", r)
				}
			}()
			h(e)
		}()
	}
}
