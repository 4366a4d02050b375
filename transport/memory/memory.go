// Package memory provides an in-process Transport. Every Send is recorded and
// delivered to all matching listeners, including ones registered by the
// sender, the way a shared pub/sub bus echoes a client's own traffic.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/message"
	"github.com/c360/ustreamer/transport"
)

type listenerEntry struct {
	filter   transport.Filter
	listener transport.Listener
}

// Transport is an in-memory bus. The zero value is not usable; call New.
type Transport struct {
	name string

	mu        sync.RWMutex
	listeners map[uint64]listenerEntry
	sent      []*message.Message
	sendErr   func(*message.Message) error
	closed    bool

	registerCalls   int
	unregisterCalls int
}

// New creates an in-memory transport. name shows up in errors only.
func New(name string) *Transport {
	return &Transport{
		name:      name,
		listeners: make(map[uint64]listenerEntry),
	}
}

// Send records m and delivers it to every matching listener. Listeners run
// on the caller's goroutine, outside the lock.
func (t *Transport) Send(ctx context.Context, m *message.Message) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, t.name, "Send", "send message")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.Unavailable(errors.ErrNoConnection, t.name, "Send", "transport closed")
	}
	if t.sendErr != nil {
		if err := t.sendErr(m); err != nil {
			t.mu.Unlock()
			return errors.Unavailable(err, t.name, "Send", "send message")
		}
	}
	t.sent = append(t.sent, m)
	t.mu.Unlock()

	t.Deliver(m)
	return nil
}

// Deliver hands m to matching listeners without recording it as sent. Tests
// use it to simulate traffic from another node on the bus.
func (t *Transport) Deliver(m *message.Message) {
	t.mu.RLock()
	targets := make([]transport.Listener, 0, len(t.listeners))
	for _, e := range t.listeners {
		if e.filter.Matches(m) {
			targets = append(targets, e.listener)
		}
	}
	t.mu.RUnlock()

	for _, l := range targets {
		l.OnReceive(m)
	}
}

// RegisterListener implements transport.Transport.
func (t *Transport) RegisterListener(ctx context.Context, f transport.Filter, l transport.Listener) (transport.Registration, error) {
	if err := ctx.Err(); err != nil {
		return transport.Registration{}, errors.WrapTransient(err, t.name, "RegisterListener", "register listener")
	}
	if l == nil {
		return transport.Registration{}, errors.InvalidArgument(
			fmt.Errorf("nil listener"), t.name, "RegisterListener", "register listener")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return transport.Registration{}, errors.Unavailable(errors.ErrNoConnection, t.name, "RegisterListener", "transport closed")
	}

	reg := transport.NewRegistration(f)
	t.listeners[reg.ID()] = listenerEntry{filter: f, listener: l}
	t.registerCalls++
	return reg, nil
}

// UnregisterListener implements transport.Transport.
func (t *Transport) UnregisterListener(_ context.Context, r transport.Registration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.listeners[r.ID()]; ok {
		delete(t.listeners, r.ID())
		t.unregisterCalls++
	}
	return nil
}

// FailSends installs fn to decide whether each Send fails. nil restores success.
func (t *Transport) FailSends(fn func(*message.Message) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = fn
}

// Sent returns a copy of the messages sent so far.
func (t *Transport) Sent() []*message.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*message.Message, len(t.sent))
	copy(out, t.sent)
	return out
}

// SentCount returns the number of successful sends.
func (t *Transport) SentCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sent)
}

// WaitForSent polls until at least n messages were sent or timeout elapses.
func (t *Transport) WaitForSent(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if t.SentCount() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ClearSent forgets recorded sends.
func (t *Transport) ClearSent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

// ListenerCount returns the number of registered listeners.
func (t *Transport) ListenerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.listeners)
}

// RegisterCalls returns how many listeners were ever registered.
func (t *Transport) RegisterCalls() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.registerCalls
}

// UnregisterCalls returns how many registrations were removed.
func (t *Transport) UnregisterCalls() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.unregisterCalls
}

// Close rejects further sends and registrations.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.listeners = make(map[uint64]listenerEntry)
	return nil
}
