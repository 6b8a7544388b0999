package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sentra-id/sentra/helper"
	"github.com/sentra-id/sentra/logger"
)

const defaultBufferSize = 1024

// Manager fans audit events out to registered sinks from a background
// worker. Emit never blocks: when the buffer is full the event is dropped
// and counted.
type Manager struct {
	mu     sync.RWMutex
	sinks  map[string]Sink
	log    logger.Logger
	events chan *Event

	dropped atomic.Uint64
	closed  atomic.Bool
	done    chan struct{}
}

var _ Emitter = (*Manager)(nil)

// NewManager starts the dispatch worker.
func NewManager(log logger.Logger) *Manager {
	m := &Manager{
		sinks:  make(map[string]Sink),
		log:    log,
		events: make(chan *Event, defaultBufferSize),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

// RegisterSink registers a named sink.
func (m *Manager) RegisterSink(name string, sink Sink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sinks[name]; exists {
		return fmt.Errorf("sink %q already registered", name)
	}
	m.sinks[name] = sink
	return nil
}

// Emit enqueues an event for delivery. It fills in the id and timestamp when
// absent and returns immediately.
func (m *Manager) Emit(event *Event) {
	if event.ID == "" {
		event.ID = helper.GenerateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// The read lock orders this send before Close closes the channel.
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed.Load() {
		return
	}

	select {
	case m.events <- event.Clone():
	default:
		m.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded due to backpressure.
func (m *Manager) Dropped() uint64 {
	return m.dropped.Load()
}

func (m *Manager) run() {
	defer close(m.done)
	for event := range m.events {
		m.deliver(event)
	}
}

func (m *Manager) deliver(event *Event) {
	m.mu.RLock()
	sinks := make([]Sink, 0, len(m.sinks))
	names := make([]string, 0, len(m.sinks))
	for name, sink := range m.sinks {
		sinks = append(sinks, sink)
		names = append(names, name)
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i, sink := range sinks {
		if err := sink.Deliver(ctx, event); err != nil {
			m.log.Error("audit sink delivery failed",
				logger.String("sink", names[i]),
				logger.String("event_type", string(event.Type)),
				logger.Err(err),
			)
		}
	}
}

// Close drains pending events and closes all sinks.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.mu.Lock()
	close(m.events)
	m.mu.Unlock()
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs *multierror.Error
	for name, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("sink %q: %w", name, err))
		}
	}
	m.sinks = make(map[string]Sink)
	return errs.ErrorOrNil()
}
