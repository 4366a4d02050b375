// Package health tracks the health of the streamer's moving parts and serves
// the aggregate over HTTP.
package health

import (
	"regexp"
	"strings"
	"time"
)

// State is the coarse health of a component.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// Pre-compiled regexes for error message sanitization
var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|tls|wss?)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one component, or of the whole process when
// SubStatuses is set.
type Status struct {
	Component   string    `json:"component"`
	State       State     `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy reports whether the state is healthy.
func (s Status) IsHealthy() bool { return s.State == StateHealthy }

// IsDegraded reports whether the state is degraded.
func (s Status) IsDegraded() bool { return s.State == StateDegraded }

// IsUnhealthy reports whether the state is unhealthy. A zero State counts as
// unhealthy.
func (s Status) IsUnhealthy() bool { return !s.IsHealthy() && !s.IsDegraded() }

func newStatus(component string, state State, message string) Status {
	return Status{Component: component, State: state, Message: message, Timestamp: time.Now()}
}

// Healthy returns a healthy status.
func Healthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// Degraded returns a degraded status.
func Degraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Unhealthy returns an unhealthy status.
func Unhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// FromError is healthy for a nil err and unhealthy otherwise, with the error
// text sanitized.
func FromError(component string, err error) Status {
	if err == nil {
		return Healthy(component, "")
	}
	return Unhealthy(component, sanitize(err.Error()))
}

// Aggregate combines sub-statuses: unhealthy if any is unhealthy, else
// degraded if any is degraded, else healthy.
func Aggregate(component string, subs []Status) Status {
	var unhealthy, degraded int
	for _, s := range subs {
		switch {
		case s.IsUnhealthy():
			unhealthy++
		case s.IsDegraded():
			degraded++
		}
	}

	var out Status
	switch {
	case unhealthy > 0:
		out = Unhealthy(component, "one or more components are unhealthy")
	case degraded > 0:
		out = Degraded(component, "one or more components are degraded")
	default:
		out = Healthy(component, "")
	}
	out.SubStatuses = append([]Status(nil), subs...)
	return out
}

// sanitize removes addresses, paths and credentials from error text exposed
// on the health endpoint.
func sanitize(msg string) string {
	if msg == "" {
		return ""
	}

	// URLs before paths, as they contain paths
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = unixPathRegex.ReplaceAllString(msg, "[PATH]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[IP]")
	msg = portRegex.ReplaceAllString(msg, "[PORT]")

	lower := strings.ToLower(msg)
	for _, word := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			msg = credentialRegex.ReplaceAllString(msg, "[REDACTED]")
			break
		}
	}
	return msg
}
