package worker

import (
	"errors"
	"fmt"
)

// ErrCancelled is raised at a checkpoint once a run has been cancelled.
var ErrCancelled = errors.New("operation cancelled by user")

// ErrAlreadyRunning is returned by the registry when a job type already has a live run.
var ErrAlreadyRunning = errors.New("job is already running")

// ConfigurationError reports missing, malformed or masked credentials. It is
// raised before any network call and never retried.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

// NewConfigurationError builds a ConfigurationError from a format string
func NewConfigurationError(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// AuthenticationError reports that an external service rejected the credentials.
type AuthenticationError struct {
	Service string
	Err     error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s rejected the configured credentials: %v", e.Service, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RequestRejectedError reports a request the service will never accept, such
// as an unknown model. It is never retried.
type RequestRejectedError struct {
	Service string
	Err     error
}

func (e *RequestRejectedError) Error() string {
	return fmt.Sprintf("%s rejected the request: %v", e.Service, e.Err)
}

func (e *RequestRejectedError) Unwrap() error { return e.Err }

// TransientError wraps a timeout, reset or 5xx that is worth retrying.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *TransientError) Unwrap() error { return e.Err }

// ItemError is a failure confined to one work item; the loop skips it.
type ItemError struct {
	Item string
	Err  error
}

func (e *ItemError) Error() string { return fmt.Sprintf("item %q: %v", e.Item, e.Err) }

func (e *ItemError) Unwrap() error { return e.Err }

// PersistenceError reports that the final bulk write failed.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("failed to persist results: %v", e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

// RetryError is returned once the retry executor has used every attempt.
type RetryError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// IsCancelled reports whether err is, or wraps, the cancellation signal.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsRetryable reports whether the retry executor should try again after err.
func IsRetryable(err error) bool {
	if err == nil || IsCancelled(err) {
		return false
	}
	var (
		cfgErr      *ConfigurationError
		rejectedErr *RequestRejectedError
	)
	return !errors.As(err, &cfgErr) && !errors.As(err, &rejectedErr)
}

// ErrorCode maps an error onto the code pushed to websocket subscribers.
func ErrorCode(err error) string {
	var (
		cfgErr     *ConfigurationError
		authErr    *AuthenticationError
		persistErr *PersistenceError
		rejected   *RequestRejectedError
	)
	switch {
	case IsCancelled(err):
		return "CANCELLED"
	case errors.As(err, &cfgErr):
		return "CONFIGURATION_ERROR"
	case errors.As(err, &authErr):
		return "AUTHENTICATION_ERROR"
	case errors.As(err, &persistErr):
		return "PERSISTENCE_ERROR"
	case errors.As(err, &rejected):
		return "REQUEST_REJECTED"
	}
	return "JOB_FAILED"
}
