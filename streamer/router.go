package streamer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/message"
	"github.com/c360/ustreamer/metric"
	"github.com/c360/ustreamer/pkg/buffer"
	"github.com/c360/ustreamer/subscription"
	"github.com/c360/ustreamer/transport"
	"github.com/c360/ustreamer/uri"
)

// Config tunes forwarding rules.
type Config struct {
	// QueueSize bounds each rule's queue between listener and dispatch loop.
	QueueSize int
	// WaitTimeout is how long a dispatch loop waits for a message before it
	// re-checks for cancellation.
	WaitTimeout time.Duration
	// Retry is the send policy for every forwarded message.
	Retry errors.RetryConfig
	// EchoTTL and EchoSize bound the set of recently emitted message ids.
	EchoTTL  time.Duration
	EchoSize int
}

// DefaultConfig returns the forwarding defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:   1000,
		WaitTimeout: 100 * time.Millisecond,
		Retry:       errors.DefaultRetryConfig(),
		EchoTTL:     30 * time.Second,
		EchoSize:    4096,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = d.WaitTimeout
	}
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = d.Retry.InitialDelay
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = d.Retry.MaxDelay
	}
	if c.Retry.BackoffFactor < 1 {
		c.Retry.BackoffFactor = d.Retry.BackoffFactor
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		c.Retry.MaxDelay = c.Retry.InitialDelay
	}
	if c.EchoTTL <= 0 {
		c.EchoTTL = d.EchoTTL
	}
	if c.EchoSize <= 0 {
		c.EchoSize = d.EchoSize
	}
	return c
}

// Option configures a Router.
type Option func(*Router)

// WithConfig replaces the forwarding config. Zero fields take defaults.
func WithConfig(cfg Config) Option {
	return func(r *Router) { r.cfg = cfg }
}

// WithObserver replaces the default log/metrics observer.
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observer = o }
}

// WithLogger sets the logger used by the router and its default observer.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics exports streamer metrics and per-rule queue metrics to registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(r *Router) { r.registry = registry }
}

// echoKey is a message id emitted to an endpoint.
type echoKey struct {
	id       uuid.UUID
	endpoint string
}

// ruleKey identifies a (source, destination) pair.
type ruleKey struct {
	srcName, srcAuthority string
	dstName, dstAuthority string
}

// RuleHandle identifies an installed forwarding rule. The zero value refers
// to no rule.
type RuleHandle struct {
	id  uint64
	key ruleKey
}

// IsZero reports whether h refers to no rule.
func (h RuleHandle) IsZero() bool { return h.id == 0 }

// RuleInfo describes an active rule.
type RuleInfo struct {
	Handle      RuleHandle
	Name        string
	Source      Endpoint
	Destination Endpoint
	Queued      int
	Queue       buffer.StatsSnapshot
	Created     time.Time
}

// Router owns the forwarding rules between endpoints. Rules are independent:
// each has its own listener registration, queue and dispatch goroutine. The
// subscription cache is shared and read-only from the router's side.
type Router struct {
	cache    *subscription.Cache
	cfg      Config
	logger   *slog.Logger
	observer Observer
	registry *metric.MetricsRegistry

	echo *expirable.LRU[echoKey, struct{}]

	mu     sync.Mutex
	rules  map[ruleKey]*rule
	nextID uint64
	closed bool
}

// NewRouter returns a router consulting cache for PUBLISH and NOTIFICATION
// forwarding decisions.
func NewRouter(cache *subscription.Cache, opts ...Option) *Router {
	r := &Router{
		cache:  cache,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		rules:  make(map[ruleKey]*rule),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cfg = r.cfg.withDefaults()
	r.logger = r.logger.With("component", "streamer")

	if r.observer == nil {
		var m *metric.Metrics
		if r.registry != nil {
			m = r.registry.CoreMetrics()
		}
		r.observer = NewLogObserver(r.logger, m, time.Second)
	}
	r.echo = expirable.NewLRU[echoKey, struct{}](r.cfg.EchoSize, nil, r.cfg.EchoTTL)
	return r
}

// AddForwardingRule starts forwarding messages received on src to dst. A rule
// for the same pair that is still active yields ALREADY_EXISTS and registers
// nothing.
func (r *Router) AddForwardingRule(ctx context.Context, src, dst Endpoint) (RuleHandle, error) {
	if err := src.Validate(); err != nil {
		return RuleHandle{}, err
	}
	if err := dst.Validate(); err != nil {
		return RuleHandle{}, err
	}

	key := ruleKey{src.Name, src.Authority, dst.Name, dst.Authority}
	name := ruleName(src, dst)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return RuleHandle{}, errors.Unavailable(errors.ErrShuttingDown, "Router", "AddForwardingRule", "router closed")
	}
	if _, ok := r.rules[key]; ok {
		return RuleHandle{}, errors.AlreadyExists(fmt.Errorf("%w: %s", errors.ErrRuleExists, name),
			"Router", "AddForwardingRule", "check rule")
	}

	r.nextID++
	rl := &rule{
		id:      r.nextID,
		key:     key,
		name:    name,
		src:     src,
		dst:     dst,
		router:  r,
		done:    make(chan struct{}),
		created: time.Now(),
	}

	queueOpts := []buffer.Option[*message.Message]{
		buffer.WithOverflowPolicy[*message.Message](buffer.DropNewest),
		buffer.WithDropCallback[*message.Message](rl.onOverflow),
	}
	if r.registry != nil {
		queueOpts = append(queueOpts, buffer.WithMetrics[*message.Message](r.registry, "rule_"+name))
	}
	queue, err := buffer.NewCircularBuffer[*message.Message](r.cfg.QueueSize, queueOpts...)
	if err != nil {
		return RuleHandle{}, errors.Wrap(err, "Router", "AddForwardingRule", "create queue")
	}
	rl.queue = queue

	reg, err := src.Transport.RegisterListener(ctx, transport.SinkAuthority(dst.Authority), rl)
	if err != nil {
		_ = queue.Close()
		return RuleHandle{}, errors.Wrap(err, "Router", "AddForwardingRule", "register listener on "+src.Name)
	}
	rl.reg = reg

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rl.cancel = cancel
	r.rules[key] = rl

	go rl.run(loopCtx)

	r.observer.Observe(newEvent(EventRuleAdded, name, nil))
	return RuleHandle{id: rl.id, key: key}, nil
}

// RemoveForwardingRule unregisters the rule's listener and stops its loop
// once the in-flight forward completes. The pair can be added again as soon
// as the rule leaves the table, before the wait ends. Removing an unknown or
// already removed rule is a no-op.
func (r *Router) RemoveForwardingRule(ctx context.Context, h RuleHandle) error {
	r.mu.Lock()
	rl, ok := r.rules[h.key]
	if !ok || rl.id != h.id {
		r.mu.Unlock()
		return nil
	}
	delete(r.rules, h.key)
	rl.detach()
	r.mu.Unlock()

	return rl.stop(ctx)
}

// Rules lists the active rules.
func (r *Router) Rules() []RuleInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RuleInfo, 0, len(r.rules))
	for _, rl := range r.rules {
		out = append(out, RuleInfo{
			Handle:      RuleHandle{id: rl.id, key: rl.key},
			Name:        rl.name,
			Source:      rl.src,
			Destination: rl.dst,
			Queued:      rl.queue.Size(),
			Queue:       rl.queue.Stats().Snapshot(),
			Created:     rl.created,
		})
	}
	return out
}

// Close removes every rule concurrently and refuses new ones.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	rules := make([]*rule, 0, len(r.rules))
	for key, rl := range r.rules {
		rules = append(rules, rl)
		delete(r.rules, key)
		rl.detach()
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, rl := range rules {
		g.Go(func() error { return rl.stop(ctx) })
	}
	return g.Wait()
}

// reachable reports whether topic has a subscribed subscriber behind
// authority, counting wildcard-authority subscribers.
func (r *Router) reachable(topic uri.URI, authority string) bool {
	if r.cache == nil {
		return false
	}
	return r.cache.AnySubscriber(topic, func(s subscription.SubscriberInfo) bool {
		return s.URI.Authority == authority || s.URI.Authority == uri.WildcardAuthority
	})
}

func ruleName(src, dst Endpoint) string {
	return src.Name + "->" + dst.Name
}
