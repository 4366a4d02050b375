// Package subscription tracks which subscribers are interested in which
// topics.
//
// Cache is the single source of truth the forwarding rules consult. It is
// filled by a Source, either a StaticFile or a KVSource, through Refresh, which
// swaps the whole contents at once so readers never see a half-applied
// snapshot. Live updates arrive through Upsert, Remove, ReplaceTopic and
// Transition.
//
// Each (topic, subscriber) pair moves through the Status lifecycle
//
//	UNSUBSCRIBED -> SUBSCRIBE_PENDING -> SUBSCRIBED -> UNSUBSCRIBE_PENDING -> UNSUBSCRIBED
//
// with the shortcuts CanTransition allows. Only SUBSCRIBED records are
// returned by Fetch.
//
// Watcher re-runs Refresh when a StaticFile changes on disk, KVSource.Watch
// follows a NATS KV bucket, and NotificationUpdater applies subscription
// change notifications received on a transport.
package subscription
