package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/message"
	"github.com/c360/ustreamer/transport"
	"github.com/c360/ustreamer/uri"
)

// Subscriber drives the pending half of the subscription lifecycle.
type Subscriber interface {
	// Subscribe requests that subscriber receive topic.
	Subscribe(ctx context.Context, topic, subscriber uri.URI) error
	// Unsubscribe withdraws the interest.
	Unsubscribe(ctx context.Context, topic, subscriber uri.URI) error
}

// ChangeResource is the resource id subscription changes are published on.
const ChangeResource = uint16(0x8000)

// ChangeTopic returns the topic subscription changes for authority are
// published on: the subscription service entity (id 0, version 3).
func ChangeTopic(authority string) uri.URI {
	return uri.New(authority, 0, 3, ChangeResource)
}

// Change is the JSON payload of a subscription change notification.
type Change struct {
	Topic      uri.URI `json:"topic"`
	Subscriber uri.URI `json:"subscriber"`
	Status     Status  `json:"status"`
}

// NotificationUpdater keeps a Cache current from subscription change
// notifications received on a transport. Its Subscribe and Unsubscribe move
// the record to the matching pending state and announce the request; the
// confirming notification completes the transition.
type NotificationUpdater struct {
	cache     *Cache
	transport transport.Transport
	topic     uri.URI
	persist   Subscriber
	logger    *slog.Logger

	mu  sync.Mutex
	reg transport.Registration
}

// UpdaterOption configures a NotificationUpdater.
type UpdaterOption func(*NotificationUpdater)

// WithPersister mirrors confirmed changes into p, typically a KVSource.
func WithPersister(p Subscriber) UpdaterOption {
	return func(u *NotificationUpdater) {
		u.persist = p
	}
}

// WithUpdaterLogger sets the logger.
func WithUpdaterLogger(logger *slog.Logger) UpdaterOption {
	return func(u *NotificationUpdater) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// NewNotificationUpdater returns an updater for changes published on topic.
func NewNotificationUpdater(cache *Cache, t transport.Transport, topic uri.URI, opts ...UpdaterOption) *NotificationUpdater {
	u := &NotificationUpdater{
		cache:     cache,
		transport: t,
		topic:     topic,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Start registers the change listener.
func (u *NotificationUpdater) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.reg.IsZero() {
		return errors.AlreadyExists(errors.ErrAlreadyStarted, "NotificationUpdater", "Start", "register listener")
	}
	reg, err := u.transport.RegisterListener(ctx, transport.Filter{Source: u.topic}, transport.ListenerFunc(u.onReceive))
	if err != nil {
		return errors.Wrap(err, "NotificationUpdater", "Start", "register listener")
	}
	u.reg = reg
	u.logger.Info("Listening for subscription changes", "topic", u.topic.String())
	return nil
}

// Stop unregisters the change listener. It is idempotent.
func (u *NotificationUpdater) Stop(ctx context.Context) error {
	u.mu.Lock()
	reg := u.reg
	u.reg = transport.Registration{}
	u.mu.Unlock()

	if reg.IsZero() {
		return nil
	}
	return u.transport.UnregisterListener(ctx, reg)
}

// Subscribe implements Subscriber.
func (u *NotificationUpdater) Subscribe(ctx context.Context, topic, subscriber uri.URI) error {
	return u.request(ctx, Change{Topic: topic, Subscriber: subscriber, Status: SubscribePending})
}

// Unsubscribe implements Subscriber.
func (u *NotificationUpdater) Unsubscribe(ctx context.Context, topic, subscriber uri.URI) error {
	return u.request(ctx, Change{Topic: topic, Subscriber: subscriber, Status: UnsubscribePending})
}

func (u *NotificationUpdater) request(ctx context.Context, c Change) error {
	if err := u.cache.Transition(c.Topic, c.Subscriber, c.Status); err != nil {
		return err
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return errors.Internal(err, "NotificationUpdater", "request", "encode change")
	}
	msg := message.NewPublish(u.topic, payload, message.WithFormat(message.FormatJSON))
	if err := u.transport.Send(ctx, msg); err != nil {
		return errors.Wrap(err, "NotificationUpdater", "request", fmt.Sprintf("announce %s", c.Status))
	}
	return nil
}

// Apply validates and applies one change to the cache. Confirmed changes
// are mirrored to the persister when one is configured.
func (u *NotificationUpdater) Apply(ctx context.Context, c Change) error {
	if err := u.cache.Transition(c.Topic, c.Subscriber, c.Status); err != nil {
		return err
	}
	if u.persist == nil {
		return nil
	}

	switch c.Status {
	case Subscribed:
		return u.persist.Subscribe(ctx, c.Topic, c.Subscriber)
	case Unsubscribed:
		return u.persist.Unsubscribe(ctx, c.Topic, c.Subscriber)
	}
	return nil
}

// DecodeChange parses a change payload. Malformed payloads are INVALID_ARGUMENT.
func DecodeChange(payload []byte) (Change, error) {
	var raw struct {
		Topic      uri.URI `json:"topic"`
		Subscriber uri.URI `json:"subscriber"`
		Status     *Status `json:"status"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Change{}, errors.InvalidArgument(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"NotificationUpdater", "DecodeChange", "decode change")
	}
	if raw.Topic.IsZero() || raw.Subscriber.IsZero() || raw.Status == nil {
		return Change{}, errors.InvalidArgument(
			fmt.Errorf("%w: topic, subscriber and status are required", errors.ErrInvalidData),
			"NotificationUpdater", "DecodeChange", "validate change")
	}
	return Change{Topic: raw.Topic, Subscriber: raw.Subscriber, Status: *raw.Status}, nil
}

func (u *NotificationUpdater) onReceive(m *message.Message) {
	if m.Kind != message.KindPublish && m.Kind != message.KindNotification {
		return
	}

	c, err := DecodeChange(m.Payload)
	if err != nil {
		u.logger.Warn("Ignoring subscription change", "id", m.ID.String(), "error", err)
		return
	}

	if err := u.Apply(context.Background(), c); err != nil {
		u.logger.Warn("Failed to apply subscription change",
			"topic", c.Topic.String(), "subscriber", c.Subscriber.String(),
			"status", c.Status.String(), "error", err)
		return
	}
	u.logger.Debug("Applied subscription change",
		"topic", c.Topic.String(), "subscriber", c.Subscriber.String(), "status", c.Status.String())
}
