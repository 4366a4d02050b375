// Package natsclient provides the NATS connection used by the host-side bus
// and the KV-backed subscription source, with circuit breaker protection and
// automatic reconnection.
//
// # Circuit Breaker
//
// After a threshold of consecutive failures (default 5) the circuit opens and
// Connect fails fast with ErrCircuitOpen. The circuit half-opens after the
// current backoff, which doubles on each further round of failures up to the
// configured maximum (default one minute). A successful connect resets it.
//
// # Connection Lifecycle
//
// Status moves through Disconnected, Connecting, Connected and Reconnecting.
// Transitions are reported through the optional callbacks and, when a
// metric.Metrics is supplied with WithMetrics, through the transport
// connection gauge under the "nats" label.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(metrics),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	sub, err := client.Subscribe(ctx, "up.>", func(ctx context.Context, subject string, data []byte) {
//	    // handle
//	})
//	defer client.Unsubscribe(sub)
//
// # Key-Value Store
//
// KVStore wraps a JetStream bucket with revision-checked read-modify-write:
//
//	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "subscriptions"})
//	store := client.NewKVStore(kv)
//	err = store.UpdateWithRetry(ctx, key, func(current []byte) ([]byte, error) {
//	    return modify(current), nil
//	})
//
// Conflicts are retried with exponential backoff and jitter; when the retry
// budget runs out UpdateWithRetry returns ErrKVMaxRetriesExceeded.
//
// # Testing
//
// NewTestClient starts a NATS server in a container through testcontainers
// and registers cleanup with the test. Tests that use it carry the
// integration build tag.
package natsclient
