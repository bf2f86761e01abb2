package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var dispatchLog = logrus.WithField("component", "dispatcher")

// Handler consumes one pushed frame. A returned error is logged by the
// dispatcher and does not affect other handlers.
type Handler func(Frame) error

// Subscription is the handle returned by AddListener.
type Subscription struct {
	id      uint64
	event   string
	handler Handler
	d       *Dispatcher
}

// Event returns the event name the subscription listens to.
func (s *Subscription) Event() string {
	if s == nil {
		return ""
	}
	return s.event
}

// Remove deregisters the subscription. Calling it more than once is a no-op.
func (s *Subscription) Remove() {
	if s == nil || s.d == nil {
		return
	}
	s.d.RemoveListener(s)
}

// Pending is a single-resolution slot for one request id.
type Pending struct {
	id string
	ch chan Frame
	d  *Dispatcher
}

// ID returns the request id the slot is waiting on.
func (p *Pending) ID() string { return p.id }

// Wait blocks until the slot is resolved or ctx is done. On ctx expiry the
// slot is removed, so a frame arriving later resolves nothing.
func (p *Pending) Wait(ctx context.Context) (Frame, error) {
	select {
	case f := <-p.ch:
		return f, nil
	case <-ctx.Done():
		p.Cancel()
		// the frame may have landed between ctx expiry and Cancel
		select {
		case f := <-p.ch:
			return f, nil
		default:
		}
		p.d.timeouts.Add(1)
		return Frame{}, ctx.Err()
	}
}

// Cancel removes the slot if it is still pending.
func (p *Pending) Cancel() {
	p.d.mu.Lock()
	if cur, ok := p.d.pending[p.id]; ok && cur == p {
		delete(p.d.pending, p.id)
	}
	p.d.mu.Unlock()
}

// DispatcherStats is a point-in-time copy of dispatcher counters.
type DispatcherStats struct {
	Pending        int    `json:"pending"`
	Listeners      int    `json:"listeners"`
	Resolved       uint64 `json:"resolved"`
	Delivered      uint64 `json:"delivered"`
	Unmatched      uint64 `json:"unmatched"`
	ListenerErrors uint64 `json:"listener_errors"`
	Timeouts       uint64 `json:"timeouts"`
}

// Dispatcher routes inbound frames to pending requests by request id and to
// listeners by event name. It is the only owner of both tables.
type Dispatcher struct {
	mu        sync.Mutex
	pending   map[string]*Pending
	listeners map[string][]*Subscription
	nextSubID uint64

	resolved       atomic.Uint64
	delivered      atomic.Uint64
	unmatched      atomic.Uint64
	listenerErrors atomic.Uint64
	timeouts       atomic.Uint64
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		pending:   make(map[string]*Pending),
		listeners: make(map[string][]*Subscription),
	}
}

// CreatePending registers a slot for requestID.
func (d *Dispatcher) CreatePending(requestID string) (*Pending, error) {
	if requestID == "" {
		return nil, fmt.Errorf("stream: empty request id")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.pending[requestID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, requestID)
	}
	p := &Pending{id: requestID, ch: make(chan Frame, 1), d: d}
	d.pending[requestID] = p
	return p, nil
}

// AddListener registers handler for event. Every call creates an independent
// subscription; handlers for one event run in registration order.
func (d *Dispatcher) AddListener(event string, handler Handler) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextSubID++
	sub := &Subscription{id: d.nextSubID, event: event, handler: handler, d: d}
	d.listeners[event] = append(d.listeners[event], sub)
	return sub
}

// RemoveListener deregisters sub. Unknown or already removed handles are ignored.
func (d *Dispatcher) RemoveListener(sub *Subscription) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := d.listeners[sub.event]
	for i, s := range subs {
		if s.id != sub.id {
			continue
		}
		next := make([]*Subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(d.listeners, sub.event)
		} else {
			d.listeners[sub.event] = next
		}
		return
	}
}

// Dispatch routes one inbound frame. A matching pending slot wins over event
// listeners; it is resolved and removed in the same critical section so no
// second frame can claim it.
func (d *Dispatcher) Dispatch(f Frame) {
	d.mu.Lock()
	if f.RequestID != "" {
		if p, ok := d.pending[f.RequestID]; ok {
			delete(d.pending, f.RequestID)
			d.mu.Unlock()
			p.ch <- f
			d.resolved.Add(1)
			return
		}
	}
	// the slice is replaced, never mutated in place, on removal
	subs := d.listeners[f.Name]
	d.mu.Unlock()

	if len(subs) == 0 {
		d.unmatched.Add(1)
		return
	}
	for _, sub := range subs {
		d.invoke(sub, f)
	}
}

func (d *Dispatcher) invoke(sub *Subscription, f Frame) {
	defer func() {
		if r := recover(); r != nil {
			d.listenerErrors.Add(1)
			dispatchLog.WithField("event", f.Name).Errorf("listener panic recovered: %v", r)
		}
	}()
	d.delivered.Add(1)
	if err := sub.handler(f); err != nil {
		d.listenerErrors.Add(1)
		dispatchLog.WithField("event", f.Name).Warnf("listener error: %v", err)
	}
}

// PendingCount reports how many request slots are outstanding.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// ListenerCount reports listeners registered for event.
func (d *Dispatcher) ListenerCount(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners[event])
}

// Stats snapshots the dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.Lock()
	pending := len(d.pending)
	listeners := 0
	for _, subs := range d.listeners {
		listeners += len(subs)
	}
	d.mu.Unlock()
	return DispatcherStats{
		Pending:        pending,
		Listeners:      listeners,
		Resolved:       d.resolved.Load(),
		Delivered:      d.delivered.Load(),
		Unmatched:      d.unmatched.Load(),
		ListenerErrors: d.listenerErrors.Load(),
		Timeouts:       d.timeouts.Load(),
	}
}
