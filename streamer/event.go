package streamer

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360/ustreamer/message"
)

// EventKind classifies router events.
type EventKind int

const (
	EventRuleAdded EventKind = iota
	EventRuleRemoved
	EventReceived
	EventForwarded
	EventDropped
	EventSendRetry
	EventBackpressure
)

var eventNames = [...]string{
	EventRuleAdded:    "rule_added",
	EventRuleRemoved:  "rule_removed",
	EventReceived:     "received",
	EventForwarded:    "forwarded",
	EventDropped:      "dropped",
	EventSendRetry:    "send_retry",
	EventBackpressure: "backpressure",
}

func (k EventKind) String() string {
	if int(k) >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event is one observable thing a rule did. Fields that do not apply to the
// kind are zero.
type Event struct {
	Kind EventKind
	Rule string
	Time time.Time

	MessageID   uuid.UUID
	MessageKind message.Kind

	// Reason is set for EventDropped, using the metric.Reason* values.
	Reason string
	// Attempt is the failed attempt number for EventSendRetry.
	Attempt int
	// Duration is the time spent forwarding for EventForwarded.
	Duration time.Duration
	Err      error
}

// Observer receives router events. Observe is called from dispatch loops and
// transport callbacks and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans events out to several observers in order.
type Observers []Observer

// Observe implements Observer.
func (o Observers) Observe(e Event) {
	for _, obs := range o {
		obs.Observe(e)
	}
}

func newEvent(kind EventKind, rule string, m *message.Message) Event {
	e := Event{Kind: kind, Rule: rule, Time: time.Now()}
	if m != nil {
		e.MessageID = m.ID
		e.MessageKind = m.Kind
	}
	return e
}
