// Package buffer provides thread-safe circular buffers with configurable overflow policies,
// built-in statistics tracking, and optional Prometheus metrics integration.
//
// # Overview
//
// A buffer decouples a producer that must never block (a transport delivery
// callback) from a single consumer that drains items in FIFO order (a
// forwarding rule's dispatch loop). Write never waits: when the buffer is full
// the overflow policy drops either the oldest queued item or the incoming one,
// and the drop callback is told which.
//
//	queue, err := buffer.NewCircularBuffer[*message.Message](1024,
//		buffer.WithOverflowPolicy[*message.Message](buffer.DropNewest),
//		buffer.WithDropCallback[*message.Message](onBackpressure),
//		buffer.WithMetrics[*message.Message](registry, "rule_host_to_bus"),
//	)
//
//	// consumer
//	for {
//		msg, err := queue.ReadContext(ctx)
//		if err != nil {
//			return // ctx done or buffer closed and drained
//		}
//		forward(msg)
//	}
//
// # Overflow Policies
//
//   - DropOldest: Remove oldest item to make room (default)
//   - DropNewest: Reject new items when full
//
// # Observability
//
// Statistics are always collected with atomic counters and expose derived
// values such as drop rate and utilization. Prometheus metrics are optional
// via WithMetrics; they carry a "component" const label set to the prefix and
// are unregistered on Close so a prefix can be reused by a later buffer.
//
// # Thread Safety
//
// Multiple producers may write concurrently. ReadContext is intended for one
// consumer; with several, every item is still delivered exactly once.
package buffer
