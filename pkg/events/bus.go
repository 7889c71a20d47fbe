// Package events is the in-process notification facility the BCP
// subsystem posts to. Handlers run synchronously on the posting goroutine.
package events

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Event names posted by the BCP subsystem.
const (
	ConnectionAttempt  = "bcp_connection_attempt"
	ClientsConnected   = "bcp_clients_connected"
	ClientDisconnected = "bcp_client_disconnected"
)

// Event is a named notification with keyword data.
type Event struct {
	Name string
	Data map[string]any
}

// Handler receives posted events.
type Handler func(Event)

type handler struct {
	id       uint64
	priority int
	fn       Handler
}

// Bus dispatches events to handlers registered by name. A handler
// registered under "*" sees every event.
type Bus struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[string][]handler
}

func NewBus() *Bus { return &Bus{handlers: make(map[string][]handler)} }

// AddHandler registers fn for name. Higher priority runs first; equal
// priorities run in registration order. The returned func removes the handler.
func (b *Bus) AddHandler(name string, fn Handler, priority ...int) func() {
	p := 0
	if len(priority) > 0 {
		p = priority[0]
	}
	b.mu.Lock()
	b.next++
	id := b.next
	hs := append(b.handlers[name], handler{id: id, priority: p, fn: fn})
	sort.SliceStable(hs, func(i, j int) bool { return hs[i].priority > hs[j].priority })
	b.handlers[name] = hs
	b.mu.Unlock()
	return func() { b.remove(name, id) }
}

func (b *Bus) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hs := b.handlers[name]
	for i, h := range hs {
		if h.id == id {
			b.handlers[name] = append(hs[:i:i], hs[i+1:]...)
			return
		}
	}
}

// Post delivers an event to its handlers. A panicking handler is logged
// and does not stop the others.
func (b *Bus) Post(name string, data map[string]any) {
	ev := Event{Name: name, Data: data}
	b.mu.RLock()
	hs := make([]handler, 0, len(b.handlers[name])+len(b.handlers["*"]))
	hs = append(hs, b.handlers[name]...)
	hs = append(hs, b.handlers["*"]...)
	b.mu.RUnlock()

	zap.L().Debug("event posted", zap.String("event", name), zap.Any("data", data), zap.Int("handlers", len(hs)))
	for _, h := range hs {
		if err := call(h.fn, ev); err != nil {
			zap.L().Error("event handler failed", zap.String("event", name), zap.Error(err))
		}
	}
}

func call(fn Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	fn(ev)
	return nil
}
