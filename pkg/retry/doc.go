// Package retry provides exponential backoff retry logic for transient failures.
//
// The forwarding engine uses it for every send on a destination transport:
// a bounded number of attempts with growing delays, after which the message is
// reported as dropped. Transport startup uses Quick().
//
//	err := retry.DoNotify(ctx, cfg, func() error {
//	    return dst.Send(ctx, msg)
//	}, func(attempt int, err error, next time.Duration) {
//	    logger.Debug("send retry", "attempt", attempt, "error", err, "backoff", next)
//	})
//
// Wrap an error with NonRetryable to stop immediately (e.g. a message that
// failed validation will not become valid on the next attempt).
package retry
