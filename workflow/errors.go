package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrEventNotAllowed is matched by IllegalTransitionError.
	ErrEventNotAllowed = errors.New("event is not allowed in the current state")
	// ErrCallbackDepthExceeded is returned when callback actions recurse deeper
	// than the configured maximum.
	ErrCallbackDepthExceeded = errors.New("callback depth exceeded")
	// ErrMissingDefinition indicates Args without a definition.
	ErrMissingDefinition = errors.New("workflow definition is required")
	// ErrPersistFailed wraps store failures.
	ErrPersistFailed = errors.New("failed to persist workflow state")
)

// ConfigurationError is returned by New when the definition, the actions or
// the plugin configuration do not fit together.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("workflow configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configurationError(err error) error {
	if err == nil {
		return nil
	}

	return &ConfigurationError{Err: err}
}

// IllegalTransitionError is returned by SendEvent for an event the current
// state does not accept. State and context are left untouched.
type IllegalTransitionError struct {
	Event string
	State string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("event %s is not allowed in the current state: %q", e.Event, e.State)
}

func (e *IllegalTransitionError) Unwrap() error {
	return ErrEventNotAllowed
}
