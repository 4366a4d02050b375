// Package natsbus carries messages over the host-side NATS network.
//
// Every message is published on a subject derived from its addressing (see
// Subject) with the message itself, codec-encoded, as the body. Listeners
// subscribe on the source part of their filter and the full filter is
// re-checked on delivery.
package natsbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/message"
	"github.com/c360/ustreamer/transport"
)

// Client is the part of natsclient.Client the bus uses.
type Client interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler func(ctx context.Context, subject string, data []byte)) (*nats.Subscription, error)
	Unsubscribe(sub *nats.Subscription) error
}

// Transport implements transport.Transport over NATS.
type Transport struct {
	client Client
	codec  message.Codec
	prefix string
	logger *slog.Logger

	mu   sync.Mutex
	subs map[uint64]*nats.Subscription
}

// Option configures a Transport.
type Option func(*Transport)

// WithCodec sets the body codec. The default is JSON.
func WithCodec(c message.Codec) Option {
	return func(t *Transport) {
		if c != nil {
			t.codec = c
		}
	}
}

// WithPrefix sets the first subject token.
func WithPrefix(prefix string) Option {
	return func(t *Transport) {
		if prefix != "" {
			t.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New returns a transport publishing through client.
func New(client Client, opts ...Option) *Transport {
	t := &Transport{
		client: client,
		codec:  message.JSONCodec{},
		prefix: DefaultPrefix,
		logger: slog.Default(),
		subs:   make(map[uint64]*nats.Subscription),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("transport", "nats")
	return t
}

// Send implements transport.Transport.
func (t *Transport) Send(ctx context.Context, m *message.Message) error {
	data, err := t.codec.Marshal(m)
	if err != nil {
		return err
	}
	subject := Subject(t.prefix, m.Source, m.Sink)
	if err := t.client.Publish(ctx, subject, data); err != nil {
		return errors.Wrap(err, "natsbus", "Send", fmt.Sprintf("publish %s", subject))
	}
	return nil
}

// RegisterListener implements transport.Transport.
func (t *Transport) RegisterListener(ctx context.Context, f transport.Filter, l transport.Listener) (transport.Registration, error) {
	if l == nil {
		return transport.Registration{}, errors.InvalidArgument(
			fmt.Errorf("nil listener"), "natsbus", "RegisterListener", "register listener")
	}

	subject := FilterSubject(t.prefix, f)
	sub, err := t.client.Subscribe(ctx, subject, func(_ context.Context, subj string, data []byte) {
		m, err := t.codec.Unmarshal(data)
		if err != nil {
			t.logger.Debug("Dropping undecodable message", "subject", subj, "error", err)
			return
		}
		if !f.Matches(m) {
			return
		}
		l.OnReceive(m)
	})
	if err != nil {
		return transport.Registration{}, errors.Wrap(err, "natsbus", "RegisterListener", fmt.Sprintf("subscribe %s", subject))
	}

	reg := transport.NewRegistration(f)
	t.mu.Lock()
	t.subs[reg.ID()] = sub
	t.mu.Unlock()

	t.logger.Debug("Registered listener", "filter", f.String(), "subject", subject)
	return reg, nil
}

// UnregisterListener implements transport.Transport.
func (t *Transport) UnregisterListener(_ context.Context, r transport.Registration) error {
	t.mu.Lock()
	sub, ok := t.subs[r.ID()]
	delete(t.subs, r.ID())
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if err := t.client.Unsubscribe(sub); err != nil {
		return errors.Wrap(err, "natsbus", "UnregisterListener", "unsubscribe")
	}
	return nil
}

// ListenerCount returns the number of active registrations.
func (t *Transport) ListenerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
