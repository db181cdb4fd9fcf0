package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
)

var (
	ErrServiceRequired        = sterrors.New("glue: runtime service is required")
	ErrHandlerRequired        = sterrors.New("glue: handler function is required")
	ErrTriggerTypeRequired    = sterrors.New("glue: trigger type is required")
	ErrCredentialTypeRequired = sterrors.New("glue: credential type is required")
	ErrConfigRequired         = sterrors.New("glue: configuration is required")
	ErrLoggerRequired         = sterrors.New("glue: logger is required")

	// ErrAlreadyInitialized is returned for registrations attempted after the
	// registry stopped accepting them.
	ErrAlreadyInitialized = sterrors.New("glue: registrations are closed; register triggers and credentials before the runtime starts serving")
	ErrDuplicateLabel     = sterrors.New("glue: duplicate label")
	ErrUnknownTrigger     = sterrors.New("glue: unknown trigger")
	ErrAlreadyStarted     = sterrors.New("glue: service already started")

	// ErrNotYetReady is returned by credential fetches made outside of a
	// dispatched trigger invocation.
	ErrNotYetReady            = sterrors.New("glue: credentials can only be fetched while handling a trigger event")
	ErrCredentialFetch        = sterrors.New("glue: credential fetch failed")
	ErrAuthorityNotConfigured = sterrors.New("glue: credential authority URL is not configured")

	ErrInvalidTriggerEvent = sterrors.New("glue: invalid trigger event")
	ErrInvalidPayload      = sterrors.New("glue: trigger payload could not be decoded")
	ErrPayloadTypeRequired = sterrors.New("glue: payload type is required")
)

// DuplicateLabelError reports a second registration for the same (type, label) pair.
type DuplicateLabelError struct {
	Kind  string
	Type  string
	Label string
}

func (e *DuplicateLabelError) Error() string {
	return fmt.Sprintf("glue: duplicate %s label %q for type %q", e.Kind, e.Label, e.Type)
}

func (e *DuplicateLabelError) Unwrap() error { return ErrDuplicateLabel }

// UnknownTriggerError reports a dispatch for a (type, label) pair that was never registered.
type UnknownTriggerError struct {
	Type  string
	Label string
}

func (e *UnknownTriggerError) Error() string {
	return fmt.Sprintf("glue: unknown trigger %s:%s", e.Type, e.Label)
}

func (e *UnknownTriggerError) Unwrap() error { return ErrUnknownTrigger }

// CredentialFetchError carries the non-success response of the credential authority.
type CredentialFetchError struct {
	Type   string
	Label  string
	Status int
	Body   string
}

func (e *CredentialFetchError) Error() string {
	msg := fmt.Sprintf("glue: fetching credential %s:%s failed with status %d", e.Type, e.Label, e.Status)
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + body
	}
	return msg
}

func (e *CredentialFetchError) Unwrap() error { return ErrCredentialFetch }

// TriggerEventValidationError lists the problems found in a trigger event payload.
type TriggerEventValidationError struct {
	Details []string
}

func (e *TriggerEventValidationError) Error() string {
	if len(e.Details) == 0 {
		return ErrInvalidTriggerEvent.Error()
	}
	return ErrInvalidTriggerEvent.Error() + ": " + strings.Join(e.Details, "; ")
}

func (e *TriggerEventValidationError) Unwrap() error { return ErrInvalidTriggerEvent }

// ConfigValidationError wraps configuration validation failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	if e.Err == nil {
		return "glue: invalid configuration"
	}
	return "glue: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }
