package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/pkg/retry"
)

// KVEntry wraps a KV entry with its revision for CAS operations
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVChange is one update delivered by WatchChanges. Deleted is set for
// delete and purge markers, in which case Value is empty.
type KVChange struct {
	Key      string
	Value    []byte
	Revision uint64
	Deleted  bool
}

// KVOptions configures KV operations behavior
type KVOptions struct {
	MaxRetries            int           // Maximum CAS retry attempts
	RetryDelay            time.Duration // Initial delay between retries
	Timeout               time.Duration // Operation timeout
	MaxValueSize          int           // Maximum size for values (default: 1MB)
	UseExponentialBackoff bool          // Enable exponential backoff with jitter
	MaxRetryDelay         time.Duration // Maximum delay between retries
}

// DefaultKVOptions returns defaults tuned for subscriber lists under contention
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:            10,
		RetryDelay:            10 * time.Millisecond,
		Timeout:               5 * time.Second,
		MaxValueSize:          1024 * 1024,
		UseExponentialBackoff: true,
		MaxRetryDelay:         time.Second,
	}
}

// KVStore provides high-level KV operations with built-in CAS support
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore creates a new KV store with the given bucket
func (m *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  m.logger.With("bucket", bucket.Bucket()),
	}
}

// applyTimeout applies the configured timeout to the context if set
func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get retrieves a value with its revision for CAS operations
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, errors.Unavailable(err, "KVStore", "Get", fmt.Sprintf("get %s", key))
	}

	return &KVEntry{
		Key:      key,
		Value:    entry.Value(),
		Revision: entry.Revision(),
	}, nil
}

// Put creates or updates a key without revision check (last writer wins)
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, errors.Unavailable(err, "KVStore", "Put", fmt.Sprintf("put %s", key))
	}

	kv.logger.Debug("KV put", "key", key, "revision", rev)
	return rev, nil
}

// Keys lists every key currently in the bucket. An empty bucket yields nil.
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	lister, err := kv.bucket.ListKeys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, errors.Unavailable(err, "KVStore", "Keys", "list keys")
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}
	return keys, nil
}

// getRetryConfig returns the retry configuration for this KV store
func (kv *KVStore) getRetryConfig() retry.Config {
	config := retry.Config{
		MaxAttempts:  kv.options.MaxRetries + 1,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     kv.options.MaxRetryDelay,
		AddJitter:    true,
		Multiplier:   1.0,
	}
	if kv.options.UseExponentialBackoff {
		config.Multiplier = 2.0
	}
	return config
}

// UpdateWithRetry performs a read-modify-write with automatic retry on
// revision conflicts. A missing key is presented to updateFn as nil and
// created. If updateFn returns nil bytes for an existing key the key is deleted.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string,
	updateFn func(current []byte) ([]byte, error)) error {

	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	retryConfig := kv.getRetryConfig()
	attempt := 0

	err := retry.Do(ctx, retryConfig, func() error {
		attempt++

		var current []byte
		var revision uint64

		entry, err := kv.Get(ctx, key)
		switch {
		case err == nil:
			current, revision = entry.Value, entry.Revision
		case IsKVNotFoundError(err):
		default:
			return err
		}

		next, err := updateFn(current)
		if err != nil {
			return retry.NonRetryable(err)
		}

		if kv.options.MaxValueSize > 0 && len(next) > kv.options.MaxValueSize {
			return retry.NonRetryable(errors.InvalidArgument(
				fmt.Errorf("value size %d exceeds maximum %d", len(next), kv.options.MaxValueSize),
				"KVStore", "UpdateWithRetry", "check value size"))
		}

		switch {
		case revision == 0 && next == nil:
			return nil
		case revision == 0:
			_, err = kv.bucket.Create(ctx, key, next)
		case next == nil:
			err = kv.bucket.Delete(ctx, key, jetstream.LastRevision(revision))
		default:
			_, err = kv.bucket.Update(ctx, key, next, revision)
		}
		if err == nil {
			return nil
		}
		if IsKVConflictError(err) {
			kv.logger.Debug("KV conflict, retrying",
				"key", key, "attempt", attempt, "max_attempts", retryConfig.MaxAttempts)
			return ErrKVRevisionMismatch
		}
		return errors.Unavailable(err, "KVStore", "UpdateWithRetry", fmt.Sprintf("write %s", key))
	})

	if err != nil && IsKVConflictError(err) {
		return ErrKVMaxRetriesExceeded
	}
	return err
}

// Delete removes a key from the bucket
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return ErrKVKeyNotFound
		}
		return errors.Unavailable(err, "KVStore", "Delete", fmt.Sprintf("delete %s", key))
	}

	kv.logger.Debug("KV delete", "key", key)
	return nil
}

// WatchChanges calls fn for every update to keys matching pattern until ctx
// is done. Existing values are not replayed; only changes after the call are
// delivered. It blocks and returns nil when ctx is cancelled.
func (kv *KVStore) WatchChanges(ctx context.Context, pattern string, fn func(KVChange)) error {
	watcher, err := kv.bucket.Watch(ctx, pattern, jetstream.UpdatesOnly())
	if err != nil {
		return errors.Unavailable(err, "KVStore", "WatchChanges", fmt.Sprintf("watch %s", pattern))
	}
	defer func() { _ = watcher.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-watcher.Updates():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.Unavailable(ErrKVWatchClosed, "KVStore", "WatchChanges", "receive update")
			}
			if entry == nil {
				continue
			}
			op := entry.Operation()
			fn(KVChange{
				Key:      entry.Key(),
				Value:    entry.Value(),
				Revision: entry.Revision(),
				Deleted:  op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge,
			})
		}
	}
}

// IsKVNotFoundError checks if error indicates key not found
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVKeyNotFound) || stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "key not found") ||
		strings.Contains(errMsg, "10037")
}

// IsKVConflictError checks if error indicates a conflict (key exists or wrong revision)
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVRevisionMismatch) || stderrors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "wrong last sequence") ||
		strings.Contains(errMsg, "10071") ||
		strings.Contains(errMsg, "key exists") ||
		strings.Contains(errMsg, "10058")
}

// Well-known KV errors
var (
	ErrKVKeyNotFound        = stderrors.New("kv: key not found")
	ErrKVRevisionMismatch   = stderrors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = stderrors.New("kv: max retries exceeded")
	ErrKVWatchClosed        = stderrors.New("kv: watcher closed")
)
