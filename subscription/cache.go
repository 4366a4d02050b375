package subscription

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/metric"
	"github.com/c360/ustreamer/uri"
)

// Source produces complete cache snapshots.
type Source interface {
	// Name labels refresh metrics and logs.
	Name() string
	// Load returns a full snapshot. Individually malformed entries are
	// skipped by the source; an error means nothing usable was read.
	Load(ctx context.Context) (Snapshot, error)
}

// Cache maps topics to the subscribers interested in them. Readers proceed
// concurrently; Refresh, Upsert, Remove and Transition serialize.
type Cache struct {
	mu     sync.RWMutex
	topics map[uri.URI]map[uri.URI]Record

	logger  *slog.Logger
	metrics *metric.Metrics
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records cache size, refreshes and updates.
func WithMetrics(m *metric.Metrics) CacheOption {
	return func(c *Cache) {
		c.metrics = m
	}
}

// NewCache returns an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		topics: make(map[uri.URI]map[uri.URI]Record),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the SUBSCRIBED subscribers of topic, ordered by URI. Unknown
// topics yield an empty result.
func (c *Cache) Fetch(topic uri.URI) []SubscriberInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	subs := c.topics[topic]
	out := make([]SubscriberInfo, 0, len(subs))
	for _, r := range subs {
		if r.Status.Active() {
			out = append(out, r.Subscriber)
		}
	}
	slices.SortFunc(out, func(a, b SubscriberInfo) int {
		return cmp.Compare(a.URI.String(), b.URI.String())
	})
	return out
}

// AnySubscriber reports whether topic has a SUBSCRIBED subscriber for which
// match returns true. It does not allocate.
func (c *Cache) AnySubscriber(topic uri.URI, match func(SubscriberInfo) bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, r := range c.topics[topic] {
		if r.Status.Active() && match(r.Subscriber) {
			return true
		}
	}
	return false
}

// Records returns every record of topic regardless of status.
func (c *Cache) Records(topic uri.URI) []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Record, 0, len(c.topics[topic]))
	for _, r := range c.topics[topic] {
		out = append(out, r.clone())
	}
	slices.SortFunc(out, func(a, b Record) int {
		return cmp.Compare(a.Subscriber.URI.String(), b.Subscriber.URI.String())
	})
	return out
}

// Refresh replaces the whole cache with a snapshot from src. On error the
// previous contents stay in place.
func (c *Cache) Refresh(ctx context.Context, src Source) error {
	snap, err := src.Load(ctx)
	if err != nil {
		c.recordRefresh(src.Name(), false)
		c.logger.Warn("Subscription refresh failed", "source", src.Name(), "error", err)
		return err
	}

	next := make(map[uri.URI]map[uri.URI]Record, len(snap))
	for topic, recs := range snap {
		for _, r := range recs {
			if topic.IsZero() || r.Subscriber.URI.IsZero() {
				continue
			}
			r.Topic = topic
			subs, ok := next[topic]
			if !ok {
				subs = make(map[uri.URI]Record, len(recs))
				next[topic] = subs
			}
			subs[r.Subscriber.URI] = r
		}
	}

	c.mu.Lock()
	c.topics = next
	topics, records := c.sizeLocked()
	c.mu.Unlock()

	c.recordRefresh(src.Name(), true)
	c.recordSize(topics, records)
	c.logger.Info("Subscription cache refreshed",
		"source", src.Name(), "topics", topics, "records", records)
	return nil
}

// Upsert inserts r under topic, replacing any record of the same subscriber.
func (c *Cache) Upsert(topic uri.URI, r Record) error {
	if err := validateKey(topic, r.Subscriber.URI, "Upsert"); err != nil {
		return err
	}
	r.Topic = topic

	c.mu.Lock()
	subs, ok := c.topics[topic]
	if !ok {
		subs = make(map[uri.URI]Record)
		c.topics[topic] = subs
	}
	subs[r.Subscriber.URI] = r
	topics, records := c.sizeLocked()
	c.mu.Unlock()

	c.recordUpdate("upsert", topics, records)
	return nil
}

// ReplaceTopic replaces every record of topic with recs. An empty recs
// removes the topic. Records with a zero subscriber are ignored.
func (c *Cache) ReplaceTopic(topic uri.URI, recs []Record) error {
	if topic.IsZero() {
		return errors.InvalidArgument(
			fmt.Errorf("%w: topic is required", errors.ErrInvalidData),
			"Cache", "ReplaceTopic", "validate subscription key")
	}

	subs := make(map[uri.URI]Record, len(recs))
	for _, r := range recs {
		if r.Subscriber.URI.IsZero() {
			continue
		}
		r.Topic = topic
		subs[r.Subscriber.URI] = r
	}

	c.mu.Lock()
	if len(subs) == 0 {
		delete(c.topics, topic)
	} else {
		c.topics[topic] = subs
	}
	topics, records := c.sizeLocked()
	c.mu.Unlock()

	c.recordUpdate("replace", topics, records)
	return nil
}

// Remove deletes subscriber from topic. It reports whether a record existed.
func (c *Cache) Remove(topic, subscriber uri.URI) bool {
	c.mu.Lock()
	removed := c.removeLocked(topic, subscriber)
	topics, records := c.sizeLocked()
	c.mu.Unlock()

	if removed {
		c.recordUpdate("remove", topics, records)
	}
	return removed
}

// Transition moves the (topic, subscriber) record to status. A missing
// record starts as UNSUBSCRIBED; reaching UNSUBSCRIBED deletes the record.
// Disallowed transitions return INVALID_ARGUMENT and change nothing.
func (c *Cache) Transition(topic, subscriber uri.URI, status Status) error {
	if err := validateKey(topic, subscriber, "Transition"); err != nil {
		return err
	}

	c.mu.Lock()
	current, exists := c.topics[topic][subscriber]
	from := Unsubscribed
	if exists {
		from = current.Status
	}
	if !from.CanTransition(status) {
		c.mu.Unlock()
		return errors.InvalidArgument(
			fmt.Errorf("%w: %s -> %s for %s on %s", errors.ErrInvalidData, from, status, subscriber, topic),
			"Cache", "Transition", "apply subscription transition")
	}

	if status == Unsubscribed {
		c.removeLocked(topic, subscriber)
	} else {
		if !exists {
			current = NewRecord(topic, subscriber)
		}
		current.Status = status
		subs, ok := c.topics[topic]
		if !ok {
			subs = make(map[uri.URI]Record)
			c.topics[topic] = subs
		}
		subs[subscriber] = current
	}
	topics, records := c.sizeLocked()
	c.mu.Unlock()

	c.recordUpdate("transition", topics, records)
	c.logger.Debug("Subscription transition",
		"topic", topic.String(), "subscriber", subscriber.String(),
		"from", from.String(), "to", status.String())
	return nil
}

// Topics returns the known topics ordered by URI.
func (c *Cache) Topics() []uri.URI {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]uri.URI, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b uri.URI) int { return cmp.Compare(a.String(), b.String()) })
	return out
}

// Len returns the number of records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, records := c.sizeLocked()
	return records
}

// Snapshot returns a deep copy of the cache contents.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(Snapshot, len(c.topics))
	for topic, subs := range c.topics {
		recs := make([]Record, 0, len(subs))
		for _, r := range subs {
			recs = append(recs, r.clone())
		}
		out[topic] = recs
	}
	return out
}

func (c *Cache) removeLocked(topic, subscriber uri.URI) bool {
	subs, ok := c.topics[topic]
	if !ok {
		return false
	}
	if _, ok := subs[subscriber]; !ok {
		return false
	}
	delete(subs, subscriber)
	if len(subs) == 0 {
		delete(c.topics, topic)
	}
	return true
}

func (c *Cache) sizeLocked() (topics, records int) {
	for _, subs := range c.topics {
		records += len(subs)
	}
	return len(c.topics), records
}

func (c *Cache) recordRefresh(source string, ok bool) {
	if c.metrics != nil {
		c.metrics.RecordRefresh(source, ok)
	}
}

func (c *Cache) recordSize(topics, records int) {
	if c.metrics != nil {
		c.metrics.RecordCacheSize(topics, records)
	}
}

func (c *Cache) recordUpdate(op string, topics, records int) {
	if c.metrics != nil {
		c.metrics.RecordCacheUpdate(op)
		c.metrics.RecordCacheSize(topics, records)
	}
}

func validateKey(topic, subscriber uri.URI, op string) error {
	if topic.IsZero() || subscriber.IsZero() {
		return errors.InvalidArgument(
			fmt.Errorf("%w: topic and subscriber are required", errors.ErrInvalidData),
			"Cache", op, "validate subscription key")
	}
	return nil
}
