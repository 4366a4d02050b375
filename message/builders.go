package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360/ustreamer/uri"
)

// Option is a functional option for message construction.
type Option func(*Message)

// WithTTL sets the time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(m *Message) {
		m.TTL = ttl
	}
}

// WithFormat sets the payload format hint.
func WithFormat(f Format) Option {
	return func(m *Message) {
		m.Format = f
	}
}

// WithPriority sets the priority class.
func WithPriority(p uint8) Option {
	return func(m *Message) {
		m.Priority = p
	}
}

// WithID overrides the generated ID. Useful for tests and replays.
func WithID(id uuid.UUID) Option {
	return func(m *Message) {
		m.ID = id
	}
}

func build(kind Kind, source uri.URI, sink *uri.URI, payload []byte, opts []Option) *Message {
	m := &Message{
		ID:      NewID(),
		Kind:    kind,
		Source:  source,
		Sink:    sink,
		Payload: payload,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewPublish creates a PUBLISH on topic.
func NewPublish(topic uri.URI, payload []byte, opts ...Option) *Message {
	return build(KindPublish, topic, nil, payload, opts)
}

// NewNotification creates a NOTIFICATION from topic to sink.
func NewNotification(topic, sink uri.URI, payload []byte, opts ...Option) *Message {
	return build(KindNotification, topic, &sink, payload, opts)
}

// NewRequest creates a REQUEST from replyTo to method.
func NewRequest(replyTo, method uri.URI, ttl time.Duration, payload []byte, opts ...Option) *Message {
	return build(KindRequest, replyTo, &method, payload, append([]Option{WithTTL(ttl)}, opts...))
}

// NewResponse creates the RESPONSE to req, swapping its addressing.
func NewResponse(req *Message, payload []byte, opts ...Option) *Message {
	var method uri.URI
	if req.Sink != nil {
		method = *req.Sink
	}
	replyTo := req.Source
	m := build(KindResponse, method, &replyTo, payload, append([]Option{WithPriority(req.Priority)}, opts...))
	m.RequestID = req.ID
	return m
}
