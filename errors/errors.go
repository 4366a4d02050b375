package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/c360/ustreamer/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Code is the status code reported for a failure.
type Code int

const (
	CodeUnknown Code = iota
	CodeNotFound
	CodeInvalidArgument
	CodeInternal
	CodeAlreadyExists
	CodeUnavailable
)

// String returns the canonical upper-case name of the code.
func (c Code) String() string {
	switch c {
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case CodeInternal:
		return "INTERNAL"
	case CodeAlreadyExists:
		return "ALREADY_EXISTS"
	case CodeUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// class maps a code onto the retry classification.
func (c Code) class() ErrorClass {
	switch c {
	case CodeUnavailable:
		return ErrorTransient
	case CodeInvalidArgument, CodeAlreadyExists:
		return ErrorInvalid
	default:
		return ErrorFatal
	}
}

// Standard error variables for common conditions
var (
	// Lifecycle
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
	ErrAlreadyStopped = errors.New("already stopped")
	ErrShuttingDown   = errors.New("shutting down")

	// Connection and transport
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrSubscriptionFailed = errors.New("subscription failed")
	ErrSendFailed         = errors.New("send failed")

	// Data
	ErrInvalidData   = errors.New("invalid data format")
	ErrInvalidURI    = errors.New("invalid uri")
	ErrParsingFailed = errors.New("parsing failed")
	ErrExpired       = errors.New("message expired")

	// Configuration
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
	ErrConfigNotFound = errors.New("configuration not found")

	// Forwarding
	ErrRuleExists   = errors.New("forwarding rule already exists")
	ErrRuleNotFound = errors.New("forwarding rule not found")

	// Retry
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// ClassifiedError wraps an error with its classification and status code
type ClassifiedError struct {
	Class     ErrorClass
	Code      Code
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// CodeOf returns the status code attached to err, walking the wrap chain.
// Unclassified errors report CodeUnknown; nil reports CodeUnknown as well.
func CodeOf(err error) Code {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		if ce.Code != CodeUnknown {
			return ce.Code
		}
		if ce.Err != nil {
			return CodeOf(ce.Err)
		}
	}
	return CodeUnknown
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrSendFailed) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary", "unavailable", "busy"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrConfigNotFound)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrInvalidURI) ||
		errors.Is(err, ErrParsingFailed) ||
		errors.Is(err, ErrExpired)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsTransient(err) {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	// Unknown errors stay retryable
	return ErrorTransient
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClassified(class ErrorClass, code Code, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Code:      code,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return wrapClassified(ErrorTransient, CodeUnavailable, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(ErrorFatal, CodeInternal, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, CodeInvalidArgument, err, component, method, action)
}

// WithCode wraps err with an explicit status code; the class follows the code.
func WithCode(code Code, err error, component, method, action string) error {
	return wrapClassified(code.class(), code, err, component, method, action)
}

// NotFound reports a missing file, bucket or resource.
func NotFound(err error, component, method, action string) error {
	return WithCode(CodeNotFound, err, component, method, action)
}

// InvalidArgument reports unparseable input or a malformed URI.
func InvalidArgument(err error, component, method, action string) error {
	return WithCode(CodeInvalidArgument, err, component, method, action)
}

// Internal reports transport initialization and I/O failures.
func Internal(err error, component, method, action string) error {
	return WithCode(CodeInternal, err, component, method, action)
}

// AlreadyExists reports a duplicate registration.
func AlreadyExists(err error, component, method, action string) error {
	return WithCode(CodeAlreadyExists, err, component, method, action)
}

// Unavailable reports a transient failure that is worth retrying.
func Unavailable(err error, component, method, action string) error {
	return WithCode(CodeUnavailable, err, component, method, action)
}

// RetryConfig defines configuration for retry operations
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
}

// DefaultRetryConfig returns the retry policy used for forwarding sends
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry determines if an error should be retried based on config
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries {
		return false
	}
	return IsTransient(err)
}

// ToRetryConfig converts to the retry package Config. MaxRetries counts
// additional attempts, so the total is MaxRetries+1.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}
