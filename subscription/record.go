package subscription

import (
	"maps"

	"github.com/c360/ustreamer/uri"
)

// SubscriberInfo identifies a subscribing entity. Details and Delivery are
// carried through untouched; routing only looks at URI.
type SubscriberInfo struct {
	URI      uri.URI           `json:"uri"`
	Details  map[string]string `json:"details,omitempty"`
	Delivery map[string]string `json:"delivery,omitempty"`
}

// Record is one subscriber's interest in a topic. Within a topic a record is
// identified by Subscriber.URI alone.
type Record struct {
	Topic      uri.URI           `json:"topic"`
	Subscriber SubscriberInfo    `json:"subscriber"`
	Status     Status            `json:"status"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewRecord returns a SUBSCRIBED record for subscriber on topic.
func NewRecord(topic, subscriber uri.URI) Record {
	return Record{
		Topic:      topic,
		Subscriber: SubscriberInfo{URI: subscriber},
		Status:     Subscribed,
	}
}

func (r Record) clone() Record {
	r.Subscriber.Details = maps.Clone(r.Subscriber.Details)
	r.Subscriber.Delivery = maps.Clone(r.Subscriber.Delivery)
	r.Attributes = maps.Clone(r.Attributes)
	return r
}

// Snapshot is a complete cache image produced by a Source.
type Snapshot map[uri.URI][]Record

// Add appends r under its topic.
func (s Snapshot) Add(r Record) {
	s[r.Topic] = append(s[r.Topic], r)
}

// Len returns the number of records, duplicates included.
func (s Snapshot) Len() int {
	n := 0
	for _, recs := range s {
		n += len(recs)
	}
	return n
}
