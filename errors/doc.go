// Package errors provides standardized error handling for the streamer.
//
// # Overview
//
// Every error produced by a streamer package carries two facets:
//
//   - a Class (Transient, Invalid, Fatal) that drives retry decisions, and
//   - a Code (NOT_FOUND, INVALID_ARGUMENT, INTERNAL, ALREADY_EXISTS,
//     UNAVAILABLE) that tells operators and callers what went wrong.
//
// The Code determines the Class when an error is built with WithCode or one of
// the code constructors:
//
//	UNAVAILABLE       -> Transient (retried by the forwarding engine)
//	INVALID_ARGUMENT  -> Invalid
//	ALREADY_EXISTS    -> Invalid
//	NOT_FOUND         -> Fatal
//	INTERNAL          -> Fatal
//
// # Quick Start
//
// Wrap third-party errors with component context:
//
//	if err := conn.Publish(subject, data); err != nil {
//	    return errors.Unavailable(err, "natsbus", "Send", "publish")
//	}
//
// Recover the code at the edge:
//
//	if errors.CodeOf(err) == errors.CodeAlreadyExists {
//	    // duplicate forwarding rule
//	}
//
// Messages follow the "component.method: action failed: cause" pattern so a log
// line alone identifies where a failure originated.
//
// # Retry Integration
//
// RetryConfig converts to pkg/retry.Config. Errors that must not be retried are
// wrapped with retry.NonRetryable by callers; Classify decides for the rest.
package errors
