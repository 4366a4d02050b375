// Package message defines the envelope that crosses every transport the
// streamer bridges.
//
// # Message Structure
//
// Every message consists of:
//   - A UUIDv7 ID, whose embedded timestamp is the creation time
//   - A Kind: PUBLISH, NOTIFICATION, REQUEST or RESPONSE
//   - A Source URI (the topic for PUBLISH and NOTIFICATION, the reply-to
//     address for REQUEST, the method for RESPONSE)
//   - An optional Sink URI
//   - A time-to-live, a payload format hint and an opaque payload
//
// # Addressing Rules
//
// Validate enforces the addressing invariants:
//
//	PUBLISH       source is a topic, no sink
//	NOTIFICATION  source is a topic, sink names the receiver
//	REQUEST       source resource 0, sink is a method, TTL required
//	RESPONSE      source is a method, sink resource 0, carries the request ID
//
// # Codecs
//
// JSONCodec is used on the host pub/sub network, CBORCodec on the ECU bus.
// Both carry URIs in their text form.
//
//	msg := message.NewPublish(uri.MustParse("//ecu/1236/1/8001"), payload,
//		message.WithFormat(message.FormatJSON))
//	data, err := message.JSONCodec{}.Marshal(msg)
package message
