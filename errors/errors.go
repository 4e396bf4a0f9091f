// Package errors holds the error helpers shared by the workflow-core packages.
package errors

import (
	"errors"
	"fmt"
)

// ErrWrongType is returned when a value inside a context document or an event
// payload does not have the shape an operation requires.
var ErrWrongType = errors.New("wrong type")

// WrongType builds an ErrWrongType error describing what was expected at a location.
func WrongType(location, expected string, got any) error {
	return fmt.Errorf("%w: %s must be %s, got %T", ErrWrongType, location, expected, got)
}

// Collection is a thread-unsafe utility for accumulating multiple errors.
// Definition validation and plugin construction use it to report every
// problem at once instead of stopping at the first one.
type Collection struct {
	errors []error
}

// Add appends an error to the collection. Nil errors are ignored.
func (c *Collection) Add(err error) {
	if err != nil {
		c.errors = append(c.errors, err)
	}
}

// Addf appends a formatted error to the collection.
func (c *Collection) Addf(format string, args ...any) {
	c.errors = append(c.errors, fmt.Errorf(format, args...)) //nolint:err113
}

// Clear removes all errors from the collection.
func (c *Collection) Clear() {
	c.errors = nil
}

// HasError returns true if the collection contains at least one error.
func (c *Collection) HasError() bool {
	return len(c.errors) > 0
}

// Len returns the number of collected errors.
func (c *Collection) Len() int {
	return len(c.errors)
}

// GetError returns the collected errors as a single error.
// Returns nil if the collection is empty, the single error if there's only one,
// or a joined error (using errors.Join) if there are multiple errors.
func (c *Collection) GetError() error {
	switch len(c.errors) {
	case 0:
		return nil
	case 1:
		return c.errors[0]
	default:
		return errors.Join(c.errors...)
	}
}
