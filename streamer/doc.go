// Package streamer forwards messages between transports.
//
// A Router holds forwarding rules. Each rule connects a source Endpoint to a
// destination Endpoint and owns one listener registration on the source, a
// bounded queue and a dispatch goroutine:
//
//	router := streamer.NewRouter(cache, streamer.WithMetrics(registry))
//	toBus, err := router.AddForwardingRule(ctx, host, bus)
//	toHost, err := router.AddForwardingRule(ctx, bus, host)
//
// Bidirectional bridging is two rules.
//
// Dispatch rules:
//
//   - PUBLISH is forwarded only when the subscription cache holds a
//     subscribed subscriber behind the destination authority (or the
//     wildcard authority).
//   - NOTIFICATION addressed to the destination authority is forwarded
//     directly; otherwise it is treated like PUBLISH.
//   - REQUEST and RESPONSE are always forwarded.
//   - Expired messages, messages whose source authority is the destination
//     authority, and messages this router just sent to the source endpoint
//     are dropped.
//
// When the destination endpoint sets RewriteAuthority, the forwarded copy
// carries the destination authority in its source URI.
//
// Sends are retried with exponential backoff for transient errors. Every
// decision is reported to the Observer as an Event; the default observer
// logs through slog and records Prometheus metrics.
//
// A full queue drops the newest message. The source transport's callback
// never blocks.
package streamer
