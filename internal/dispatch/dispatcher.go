package dispatch

import (
	"sync"

	"github.com/cartloop/assistant-go/internal/logger"
	"github.com/cartloop/assistant-go/internal/protocol"
)

// All subscribes a handler to every event type.
const All = "*"

// Handler receives a decoded inbound event.
type Handler func(*protocol.Event)

// Subscription identifies one registered handler. Cancel removes it; teardown
// is deterministic instead of relying on callers matching an off() call to the
// original function value.
type Subscription struct {
	dispatcher *Dispatcher
	eventType  string
	id         uint64
}

// Cancel removes the handler. Safe to call more than once.
func (s Subscription) Cancel() {
	if s.dispatcher != nil {
		s.dispatcher.remove(s.eventType, s.id)
	}
}

type entry struct {
	id uint64
	fn Handler
}

// Dispatcher decodes raw inbound frames and delivers them to registered
// handlers. Handlers for the matching type run first, then wildcard handlers,
// each group in registration order.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[string][]entry
	nextID   uint64
	closed   bool
	log      *logger.Logger
}

// New creates a Dispatcher. A nil log falls back to the global logger.
func New(log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Global()
	}
	return &Dispatcher{
		handlers: make(map[string][]entry),
		log:      log,
	}
}

// On registers a handler for an event type (or All) and returns its
// Subscription. Multiple handlers per type are delivered in registration order.
func (d *Dispatcher) On(eventType string, fn Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || fn == nil {
		return Subscription{}
	}

	d.nextID++
	id := d.nextID
	d.handlers[eventType] = append(d.handlers[eventType], entry{id: id, fn: fn})

	return Subscription{dispatcher: d, eventType: eventType, id: id}
}

func (d *Dispatcher) remove(eventType string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.handlers[eventType]
	for i, e := range entries {
		if e.id == id {
			d.handlers[eventType] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Dispatch decodes a raw frame and delivers it. Malformed or unrecognized
// frames are logged and dropped; the stream continues.
func (d *Dispatcher) Dispatch(raw []byte) {
	ev, err := protocol.DecodeEvent(raw)
	if err != nil {
		d.log.Warn("dropping inbound frame: %v", err)
		return
	}
	d.DispatchEvent(ev)
}

// DispatchEvent delivers an already-decoded event to its handlers.
func (d *Dispatcher) DispatchEvent(ev *protocol.Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	targets := make([]entry, 0, len(d.handlers[ev.Type])+len(d.handlers[All]))
	targets = append(targets, d.handlers[ev.Type]...)
	targets = append(targets, d.handlers[All]...)
	d.mu.Unlock()

	for _, e := range targets {
		d.invoke(e.fn, ev)
	}
}

// invoke runs one handler isolated: a panicking handler must not prevent
// delivery to the handlers after it.
func (d *Dispatcher) invoke(fn Handler, ev *protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic on %s event: %v", ev.Type, r)
		}
	}()
	fn(ev)
}

// Close drops every handler. No handler is invoked after Close returns.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.handlers = make(map[string][]entry)
}
