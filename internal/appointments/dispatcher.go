package appointments

import (
	"context"
	"sync"

	"github.com/caltalk/bridge/internal/binding"
)

// Dispatcher fans appointment lifecycle events out to subscribed handlers.
// Dispatch is synchronous: when NotifyWrite returns, every handler has run.
// The HTTP handlers rely on that ordering, a delete notification must finish
// its remote cleanup before the row disappears.
type Dispatcher struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]binding.LifecycleHandler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[int]binding.LifecycleHandler)}
}

// Subscribe registers a handler and returns its unsubscribe function.
func (d *Dispatcher) Subscribe(h binding.LifecycleHandler) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.handlers[id] = h
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.handlers, id)
		d.mu.Unlock()
	}
}

func (d *Dispatcher) snapshot() []binding.LifecycleHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	hs := make([]binding.LifecycleHandler, 0, len(d.handlers))
	for _, h := range d.handlers {
		hs = append(hs, h)
	}
	return hs
}

// NotifyWrite announces that an appointment was saved.
func (d *Dispatcher) NotifyWrite(ctx context.Context, appt binding.Appointment) {
	for _, h := range d.snapshot() {
		h.OnWrite(ctx, appt)
	}
}

// NotifyBeforeDelete announces that an appointment is about to be removed.
func (d *Dispatcher) NotifyBeforeDelete(ctx context.Context, appt binding.Appointment) {
	for _, h := range d.snapshot() {
		h.OnBeforeDelete(ctx, appt)
	}
}

// NotifyClose announces that the appointment's editor was closed.
func (d *Dispatcher) NotifyClose(ctx context.Context, appt binding.Appointment) {
	for _, h := range d.snapshot() {
		h.OnClose(ctx, appt)
	}
}
