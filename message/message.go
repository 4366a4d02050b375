package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/uri"
)

// Message is the envelope forwarded between transports. Treat a received
// Message as read-only; use Clone before changing addressing.
type Message struct {
	ID       uuid.UUID
	Kind     Kind
	Source   uri.URI
	Sink     *uri.URI
	TTL      time.Duration
	Priority uint8
	Format   Format
	// RequestID correlates a RESPONSE with its REQUEST.
	RequestID uuid.UUID
	Payload   []byte
}

// NewID returns a UUIDv7. It only fails if the system random source does.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// CreatedAt returns the time embedded in a v7 ID, or the zero time.
func (m *Message) CreatedAt() time.Time {
	if m.ID.Version() != 7 {
		return time.Time{}
	}
	sec, nsec := m.ID.Time().UnixTime()
	return time.Unix(sec, nsec)
}

// Expired reports whether the TTL has elapsed at now. A zero TTL never expires.
func (m *Message) Expired(now time.Time) bool {
	if m.TTL <= 0 {
		return false
	}
	created := m.CreatedAt()
	if created.IsZero() {
		return false
	}
	return now.After(created.Add(m.TTL))
}

// HasSink reports whether the message is addressed.
func (m *Message) HasSink() bool {
	return m.Sink != nil
}

// Clone returns a copy that shares the payload bytes but not the sink pointer.
func (m *Message) Clone() *Message {
	c := *m
	if m.Sink != nil {
		sink := *m.Sink
		c.Sink = &sink
	}
	return &c
}

// Topic returns the URI the subscription cache is keyed by.
func (m *Message) Topic() uri.URI {
	return m.Source
}

func (m *Message) String() string {
	if m.Sink == nil {
		return fmt.Sprintf("%s %s id=%s", m.Kind, m.Source, m.ID)
	}
	return fmt.Sprintf("%s %s -> %s id=%s", m.Kind, m.Source, m.Sink, m.ID)
}

// Validate checks the addressing rules for the message kind.
func (m *Message) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.InvalidArgument(
			fmt.Errorf("%w: %s", errors.ErrInvalidData, fmt.Sprintf(format, args...)),
			"Message", "Validate", "validate message")
	}

	if m.ID == uuid.Nil {
		return invalid("missing id")
	}
	if m.Source.IsZero() {
		return invalid("missing source")
	}
	if m.Source.HasWildcard() {
		return invalid("source %s contains a wildcard", m.Source)
	}
	if m.Sink != nil && m.Sink.HasWildcard() {
		return invalid("sink %s contains a wildcard", m.Sink)
	}

	switch m.Kind {
	case KindPublish:
		if m.Sink != nil {
			return invalid("publish must not carry a sink")
		}
		if !m.Source.IsTopic() {
			return invalid("publish source %s is not a topic", m.Source)
		}
	case KindNotification:
		if m.Sink == nil {
			return invalid("notification requires a sink")
		}
		if !m.Source.IsTopic() {
			return invalid("notification source %s is not a topic", m.Source)
		}
	case KindRequest:
		if m.Sink == nil {
			return invalid("request requires a sink")
		}
		if !m.Source.IsRPCResponse() {
			return invalid("request source %s must have resource 0", m.Source)
		}
		if m.Sink.IsRPCResponse() || m.Sink.IsTopic() {
			return invalid("request sink %s is not a method", m.Sink)
		}
		if m.TTL <= 0 {
			return invalid("request requires a ttl")
		}
	case KindResponse:
		if m.Sink == nil {
			return invalid("response requires a sink")
		}
		if !m.Sink.IsRPCResponse() {
			return invalid("response sink %s must have resource 0", m.Sink)
		}
		if m.RequestID == uuid.Nil {
			return invalid("response requires a request id")
		}
	default:
		return invalid("unsupported kind %s", m.Kind)
	}
	return nil
}
