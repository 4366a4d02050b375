package subscription

import (
	"fmt"
	"strings"

	"github.com/c360/ustreamer/errors"
)

// Status is the lifecycle state of one (topic, subscriber) pair.
type Status uint8

const (
	Unsubscribed Status = iota
	SubscribePending
	Subscribed
	UnsubscribePending
)

var statusNames = [...]string{
	Unsubscribed:       "UNSUBSCRIBED",
	SubscribePending:   "SUBSCRIBE_PENDING",
	Subscribed:         "SUBSCRIBED",
	UnsubscribePending: "UNSUBSCRIBE_PENDING",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// ParseStatus parses the upper-case status name.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(s, name) {
			return Status(i), nil
		}
	}
	return Unsubscribed, errors.InvalidArgument(
		fmt.Errorf("%w: unknown subscription status %q", errors.ErrInvalidData, s),
		"subscription", "ParseStatus", "parse status")
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

var transitions = map[Status][]Status{
	Unsubscribed:       {SubscribePending, Subscribed},
	SubscribePending:   {Subscribed, Unsubscribed},
	Subscribed:         {UnsubscribePending, Unsubscribed},
	UnsubscribePending: {Unsubscribed, Subscribed},
}

// CanTransition reports whether moving from s to next is allowed. Staying in
// the same state is always allowed.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Active reports whether a record in this state receives traffic.
func (s Status) Active() bool {
	return s == Subscribed
}
