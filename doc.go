// Package ustreamer bridges uProtocol-style messages between a vehicle's host
// network and its in-vehicle bus.
//
// A single process runs two transports side by side:
//
//   - host: NATS, one subject per source and sink URI (transport/natsbus)
//   - bus: UDP datagrams to statically configured gateway peers (transport/udpbus)
//
// The streamer installs a forwarding rule in each direction. Each rule has its
// own bounded queue and a worker goroutine that decides, per message, whether
// the far side should see it:
//
//	┌───────────┐   rule host->bus   ┌───────────┐
//	│   NATS    │ ─────────────────▶ │  UDP bus  │
//	│  (host)   │ ◀───────────────── │  (ecu)    │
//	└───────────┘   rule bus->host   └───────────┘
//	        ▲                               ▲
//	        └───── subscription cache ──────┘
//	          static file │ NATS KV │ change notifications
//
// Publish messages cross only when the subscription cache has a subscriber
// at the destination authority. Requests and responses always cross.
// Notifications cross when addressed to the destination authority or when
// someone there subscribes to the topic.
//
// # Packages
//
//   - uri, message: addressing and the message model with JSON and CBOR codecs
//   - transport: the Transport contract, filters, and an in-memory transport
//   - subscription: the topic to subscriber cache and its sources
//   - streamer: forwarding rules, dispatch and backpressure
//   - config, health, metric, errors: ambient process plumbing
//   - natsclient: NATS connection management and KV access
//   - cmd/ustreamer: the process entry point
//
// # Running
//
//	ustreamer --config /etc/ustreamer/config.jsonc
//
// Configuration is JSON with comments, layered under USTREAMER_* environment
// variables. Prometheus metrics and a JSON health report are served on
// metrics.addr when metrics.enabled is set.
package ustreamer
