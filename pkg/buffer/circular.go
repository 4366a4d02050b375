package buffer

import (
	"context"
	"sync"

	"github.com/c360/ustreamer/errors"
)

// circularBuffer is a thread-safe circular buffer with configurable overflow policies.
type circularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int            // Points to the next write position
	tail     int            // Points to the next read position
	stats    Statistics
	metrics  *bufferMetrics // Optional Prometheus metrics
	opts     *bufferOptions[T]

	// ready holds at most one pending wake-up for ReadContext
	ready  chan struct{}
	done   chan struct{}
	closed bool
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1 // Minimum capacity
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.Wrap(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	return &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		metrics:  metrics,
		opts:     opts,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Write adds an item to the buffer according to the overflow policy.
func (cb *circularBuffer[T]) Write(item T) error {
	cb.mu.Lock()

	if cb.closed {
		cb.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	var dropped T
	var hasDropped bool

	if cb.size == cb.capacity {
		cb.stats.drop()
		if cb.metrics != nil {
			cb.metrics.recordOverflow()
			cb.metrics.recordDrop()
		}

		switch cb.opts.overflowPolicy {
		case DropNewest:
			cb.mu.Unlock()
			if cb.opts.dropCallback != nil {
				cb.opts.dropCallback(item)
			}
			return nil

		default:
			dropped, hasDropped = cb.items[cb.tail], true
			var zero T
			cb.items[cb.tail] = zero
			cb.tail = (cb.tail + 1) % cb.capacity
			cb.size--
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	cb.stats.write(cb.size)
	if cb.metrics != nil {
		cb.metrics.recordWrite(cb.size, cb.capacity)
	}
	cb.mu.Unlock()

	select {
	case cb.ready <- struct{}{}:
	default:
	}

	// Callbacks run outside the lock to avoid deadlock
	if hasDropped && cb.opts.dropCallback != nil {
		cb.opts.dropCallback(dropped)
	}
	return nil
}

// Read retrieves and removes one item from the buffer.
func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.readLocked()
}

func (cb *circularBuffer[T]) readLocked() (T, bool) {
	var zero T
	if cb.size == 0 {
		return zero, false
	}

	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero // Clear for GC
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--

	cb.stats.read()
	if cb.metrics != nil {
		cb.metrics.recordRead(cb.size, cb.capacity)
	}

	return item, true
}

// ReadContext blocks until an item is available. It returns ctx.Err() when
// ctx is done first, and ErrAlreadyStopped once the buffer is closed and empty.
func (cb *circularBuffer[T]) ReadContext(ctx context.Context) (T, error) {
	for {
		cb.mu.Lock()
		item, ok := cb.readLocked()
		closed := cb.closed
		cb.mu.Unlock()

		if ok {
			return item, nil
		}
		var zero T
		if closed {
			return zero, errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "ReadContext", "buffer closed")
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-cb.ready:
		case <-cb.done:
		}
	}
}

// ReadBatch retrieves and removes up to max items from the buffer.
func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}

	readCount := min(max, cb.size)
	result := make([]T, 0, readCount)
	for range readCount {
		item, _ := cb.readLocked()
		result = append(result, item)
	}
	return result
}

// Size returns the current number of items in the buffer.
func (cb *circularBuffer[T]) Size() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity // This is immutable, so no lock needed
}

// Clear removes all items from the buffer.
func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()

	var zero T
	dropped := make([]T, 0, cb.size)
	for i := 0; i < cb.size; i++ {
		idx := (cb.tail + i) % cb.capacity
		dropped = append(dropped, cb.items[idx])
		cb.items[idx] = zero
	}

	cb.head = 0
	cb.tail = 0
	cb.size = 0

	if cb.metrics != nil {
		cb.metrics.updateSize(0, cb.capacity)
	}
	cb.mu.Unlock()

	if cb.opts.dropCallback != nil {
		for _, item := range dropped {
			cb.opts.dropCallback(item)
		}
	}
}

// Stats returns the buffer's counters.
func (cb *circularBuffer[T]) Stats() *Statistics {
	return &cb.stats
}

// Close stops the buffer and unregisters its metrics so the prefix can be reused.
func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}

	cb.closed = true
	close(cb.done)

	if cb.metrics != nil {
		cb.metrics.unregister()
	}
	return nil
}
