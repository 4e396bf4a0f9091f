package statemachine

import (
	"errors"
	"fmt"
)

// Predefined error types.
var (
	// ErrInvalidDefinition wraps every structural problem found in a definition.
	ErrInvalidDefinition = errors.New("invalid definition")
	// ErrStatesRequired indicates that a definition has no states.
	ErrStatesRequired = errors.New("at least one state is required")
	// ErrInitialStateRequired indicates that an initial state is required.
	ErrInitialStateRequired = errors.New("initial state is required")
	// ErrInitialStateNotFound indicates that the initial state does not exist.
	ErrInitialStateNotFound = errors.New("initial state does not exist")
	// ErrInvalidStateName indicates that a state key contains the path separator.
	ErrInvalidStateName = errors.New("state names must not contain '.'")
	// ErrNilState indicates a state key without a state body.
	ErrNilState = errors.New("state has no definition")
	// ErrCompoundWithoutChildren indicates a compound state with no child states.
	ErrCompoundWithoutChildren = errors.New("compound state must have child states")
	// ErrLeafWithChildren indicates an atomic or final state declaring children.
	ErrLeafWithChildren = errors.New("atomic and final states cannot have child states")
	// ErrUnknownStateType indicates that an unknown state type was encountered.
	ErrUnknownStateType = errors.New("unknown state type")
	// ErrTargetNotFound indicates a transition whose target does not resolve.
	ErrTargetNotFound = errors.New("transition target does not exist")

	// ErrUnknownState indicates that a state value does not exist in the machine.
	ErrUnknownState = errors.New("state not found")
	// ErrUnknownAction indicates that an action name is not registered.
	ErrUnknownAction = errors.New("action not registered")
	// ErrUnknownGuard indicates that a guard type is not registered.
	ErrUnknownGuard = errors.New("guard not registered")
	// ErrActionFailed indicates that an action returned an error.
	ErrActionFailed = errors.New("action execution failed")
	// ErrGuardFailed indicates that a guard could not be evaluated.
	ErrGuardFailed = errors.New("guard evaluation failed")
	// ErrInvalidGuardOptions indicates guard options of the wrong shape.
	ErrInvalidGuardOptions = errors.New("invalid guard options")
)

// StateError wraps an error with state context.
type StateError struct {
	State string
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s: %v", e.State, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// TransitionError wraps an error with transition context.
type TransitionError struct {
	From  string
	Event string
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition from %s on %s: %v", e.From, e.Event, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// WrapStateError wraps an error with state context.
func WrapStateError(state string, err error) error {
	if err == nil {
		return nil
	}

	return &StateError{
		State: state,
		Err:   err,
	}
}

// WrapTransitionError wraps an error with transition context.
func WrapTransitionError(from, event string, err error) error {
	if err == nil {
		return nil
	}

	return &TransitionError{
		From:  from,
		Event: event,
		Err:   err,
	}
}
