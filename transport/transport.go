// Package transport defines the capability the streamer consumes from every
// bus it bridges: send a message, and register or unregister a listener for
// messages matching a filter.
package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/c360/ustreamer/message"
	"github.com/c360/ustreamer/uri"
)

// Transport is one physical or logical bus. Implementations are safe for
// concurrent use.
type Transport interface {
	// Send delivers m. A failure that may succeed on retry is classified
	// transient (UNAVAILABLE).
	Send(ctx context.Context, m *message.Message) error

	// RegisterListener invokes l for every received message matching f.
	// Listeners must not block; the transport may call them from its
	// receive goroutine.
	RegisterListener(ctx context.Context, f Filter, l Listener) (Registration, error)

	// UnregisterListener removes a registration. Unknown registrations are
	// not an error.
	UnregisterListener(ctx context.Context, r Registration) error
}

// Listener receives messages from a transport.
type Listener interface {
	OnReceive(m *message.Message)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(m *message.Message)

// OnReceive implements Listener.
func (f ListenerFunc) OnReceive(m *message.Message) { f(m) }

// Filter selects received messages by source and, optionally, sink.
type Filter struct {
	Source uri.URI
	// Sink nil matches any sink.
	Sink *uri.URI
}

// SinkAuthority returns the filter used by forwarding rules: any source, and
// a sink in authority when the message is addressed.
func SinkAuthority(authority string) Filter {
	sink := uri.AnyIn(authority)
	return Filter{Source: uri.Any(), Sink: &sink}
}

// Matches reports whether m passes the filter. Unaddressed messages pass any
// sink filter; addressed messages must match it when one is set.
func (f Filter) Matches(m *message.Message) bool {
	if !m.Source.Matches(f.Source) {
		return false
	}
	if f.Sink == nil || m.Sink == nil {
		return true
	}
	return m.Sink.Matches(*f.Sink)
}

func (f Filter) String() string {
	if f.Sink == nil {
		return f.Source.String()
	}
	return fmt.Sprintf("%s -> %s", f.Source, f.Sink)
}

// Registration identifies a registered listener.
type Registration struct {
	id     uint64
	Filter Filter
}

var registrationSeq atomic.Uint64

// NewRegistration allocates a process-unique registration for f.
func NewRegistration(f Filter) Registration {
	return Registration{id: registrationSeq.Add(1), Filter: f}
}

// ID returns the registration's unique id.
func (r Registration) ID() uint64 { return r.id }

// IsZero reports whether r was never issued.
func (r Registration) IsZero() bool { return r.id == 0 }
