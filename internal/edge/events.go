package edge

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type EventType string

const (
	EventInstall  EventType = "install"
	EventActivate EventType = "activate"
	EventSync     EventType = "sync"
	EventMessage  EventType = "message"
)

type Event struct {
	Type EventType
	// Tag names the sync registration for EventSync.
	Tag string
	// Message and Reply are set for EventMessage. Reply may be nil when the
	// sender does not wait for an answer.
	Message Message
	Reply   func(v any) error
}

// Handler is awaited by Dispatch; the event is not complete until every
// handler returns.
type Handler func(ctx context.Context, ev Event) error

type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[EventType][]Handler)}
}

func (d *Dispatcher) On(t EventType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = append(d.handlers[t], h)
}

// Dispatch runs the handlers registered for ev.Type in registration order
// and joins their errors. A panicking handler is reported as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	d.mu.RLock()
	hs := append([]Handler(nil), d.handlers[ev.Type]...)
	d.mu.RUnlock()

	var errs []error
	for _, h := range hs {
		if err := runHandler(ctx, h, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runHandler(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s handler panicked: %v", ev.Type, r)
		}
	}()
	return h(ctx, ev)
}
