package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/redseat/internal/metrics"
)

// Publisher is the producer side of the bus
type Publisher interface {
	// Publish never blocks; the event is dropped when the buffer is full
	// or the bus is not running.
	Publish(event Event) bool
}

// Bus delivers events to subscribers on a single dispatch goroutine
type Bus struct {
	config EventBusConfig
	logger hclog.Logger

	mu            sync.RWMutex
	subscriptions map[string]*subscription
	running       bool

	eventChannel chan Event
	stopCh       chan struct{}
	wg           sync.WaitGroup

	dropped atomic.Int64
}

type subscription struct {
	filter  EventFilter
	handler EventHandler
}

// NewBus creates a stopped event bus
func NewBus(config EventBusConfig, logger hclog.Logger) *Bus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultEventBusConfig().BufferSize
	}
	return &Bus{
		config:        config,
		logger:        logger.Named("event-bus"),
		subscriptions: make(map[string]*subscription),
		eventChannel:  make(chan Event, config.BufferSize),
	}
}

// Start starts the dispatch loop
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("event bus is already running")
	}
	b.running = true
	b.stopCh = make(chan struct{})

	b.wg.Add(1)
	go b.processEvents(ctx, b.stopCh)

	b.logger.Debug("event bus started", "buffer_size", b.config.BufferSize)
	return nil
}

// Stop stops the dispatch loop and waits for it to exit
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()

	b.wg.Wait()
}

// Publish implements Publisher
func (b *Bus) Publish(event Event) bool {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()
	if !running {
		return false
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventChannel <- event:
		return true
	default:
		b.dropped.Add(1)
		metrics.ProgressEventsDropped.Inc()
		b.logger.Debug("event channel full, dropping event", "event_type", event.Type)
		return false
	}
}

// Subscribe registers a handler and returns a function removing it
func (b *Bus) Subscribe(filter EventFilter, handler EventHandler) func() {
	id := uuid.New().String()

	b.mu.Lock()
	b.subscriptions[id] = &subscription{filter: filter, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscriptions, id)
		b.mu.Unlock()
	}
}

// Dropped returns how many events were dropped since creation
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Bus) processEvents(ctx context.Context, stopCh chan struct{}) {
	defer b.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case event := <-b.eventChannel:
			b.handleEvent(event)
		}
	}
}

func (b *Bus) handleEvent(event Event) {
	b.mu.RLock()
	var handlers []EventHandler
	for _, sub := range b.subscriptions {
		if sub.filter.Matches(event) {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.notify(h, event)
	}
}

func (b *Bus) notify(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event_type", event.Type, "panic", r)
		}
	}()
	h(event)
}
