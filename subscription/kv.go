package subscription

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/natsclient"
	"github.com/c360/ustreamer/uri"
)

// KVStore is the part of natsclient.KVStore the KV source needs.
type KVStore interface {
	Keys(ctx context.Context) ([]string, error)
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	UpdateWithRetry(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
	WatchChanges(ctx context.Context, pattern string, fn func(natsclient.KVChange)) error
}

// KVSource keeps subscriptions in a NATS KV bucket: one key per topic holding
// a JSON array of subscriber URIs, the same shape as a StaticFile value.
// Keys are the base64url encoding of the topic text form since KV keys do not
// allow '/'.
type KVSource struct {
	store  KVStore
	logger *slog.Logger
}

// NewKVSource returns a source over store.
func NewKVSource(store KVStore, logger *slog.Logger) *KVSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &KVSource{store: store, logger: logger}
}

// TopicKey returns the KV key for topic.
func TopicKey(topic uri.URI) string {
	return base64.RawURLEncoding.EncodeToString([]byte(topic.String()))
}

// ParseTopicKey reverses TopicKey.
func ParseTopicKey(key string) (uri.URI, error) {
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return uri.URI{}, errors.InvalidArgument(
			fmt.Errorf("%w: key %q: %v", errors.ErrInvalidData, key, err),
			"KVSource", "ParseTopicKey", "decode key")
	}
	return uri.Parse(string(raw))
}

// Name implements Source.
func (s *KVSource) Name() string { return "kv" }

// Load implements Source by reading every key in the bucket.
func (s *KVSource) Load(ctx context.Context) (Snapshot, error) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	snap := make(Snapshot, len(keys))
	for _, key := range keys {
		topic, err := ParseTopicKey(key)
		if err != nil {
			s.logger.Warn("Skipping subscription key", "key", key, "error", err)
			continue
		}

		entry, err := s.store.Get(ctx, key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue // deleted between Keys and Get
			}
			return nil, err
		}

		for _, r := range s.decode(topic, entry.Value) {
			snap.Add(r)
		}
	}
	return snap, nil
}

// Watch applies bucket changes to cache until ctx is done. Each change
// replaces the topic's whole subscriber set.
func (s *KVSource) Watch(ctx context.Context, cache *Cache) error {
	return s.store.WatchChanges(ctx, ">", func(change natsclient.KVChange) {
		topic, err := ParseTopicKey(change.Key)
		if err != nil {
			s.logger.Warn("Ignoring change for malformed key", "key", change.Key, "error", err)
			return
		}

		var recs []Record
		if !change.Deleted {
			recs = s.decode(topic, change.Value)
		}
		if err := cache.ReplaceTopic(topic, recs); err != nil {
			s.logger.Warn("Failed to apply subscription change", "topic", topic.String(), "error", err)
			return
		}
		s.logger.Debug("Applied subscription change",
			"topic", topic.String(), "subscribers", len(recs), "revision", change.Revision)
	})
}

// Subscribe adds subscriber to topic in the bucket.
func (s *KVSource) Subscribe(ctx context.Context, topic, subscriber uri.URI) error {
	return s.update(ctx, topic, func(subs []uri.URI) []uri.URI {
		if slices.Contains(subs, subscriber) {
			return subs
		}
		return append(subs, subscriber)
	})
}

// Unsubscribe removes subscriber from topic in the bucket. The key is deleted
// when the last subscriber goes.
func (s *KVSource) Unsubscribe(ctx context.Context, topic, subscriber uri.URI) error {
	return s.update(ctx, topic, func(subs []uri.URI) []uri.URI {
		return slices.DeleteFunc(subs, func(u uri.URI) bool { return u == subscriber })
	})
}

func (s *KVSource) update(ctx context.Context, topic uri.URI, fn func([]uri.URI) []uri.URI) error {
	if topic.IsZero() {
		return errors.InvalidArgument(
			fmt.Errorf("%w: topic is required", errors.ErrInvalidData),
			"KVSource", "update", "validate topic")
	}

	return s.store.UpdateWithRetry(ctx, TopicKey(topic), func(current []byte) ([]byte, error) {
		var subs []uri.URI
		if len(current) > 0 {
			if err := json.Unmarshal(current, &subs); err != nil {
				return nil, errors.InvalidArgument(err, "KVSource", "update", "decode subscribers")
			}
		}
		subs = fn(subs)
		if len(subs) == 0 {
			return nil, nil
		}
		return json.Marshal(subs)
	})
}

// decode parses a stored subscriber list, skipping malformed elements.
func (s *KVSource) decode(topic uri.URI, value []byte) []Record {
	var elems []string
	if err := json.Unmarshal(value, &elems); err != nil {
		s.logger.Warn("Skipping subscription value", "topic", topic.String(), "error", err)
		return nil
	}

	seen := make(map[uri.URI]struct{}, len(elems))
	recs := make([]Record, 0, len(elems))
	for _, text := range elems {
		sub, err := uri.Parse(text)
		if err != nil {
			s.logger.Warn("Skipping subscriber", "topic", topic.String(), "subscriber", text, "error", err)
			continue
		}
		if _, dup := seen[sub]; dup {
			continue
		}
		seen[sub] = struct{}{}
		recs = append(recs, NewRecord(topic, sub))
	}
	return recs
}
