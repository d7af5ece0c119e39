package message

import (
	"errors"
	"fmt"
)

var (
	ErrMissingBinding   = errors.New("message: element has no parameter binding")
	ErrMissingParameter = errors.New("message: parameter value missing")
	ErrUnknownElement   = errors.New("message: unknown element config")
	ErrUnsizedElement   = errors.New("message: element needs a fixed size")
	ErrInvalidValue     = errors.New("message: invalid value")
)

// BindingError reports an ADDRESS or FIELD element that could not be given a value.
// It always wraps ErrMissingBinding or ErrMissingParameter.
type BindingError struct {
	ElementID string
	Parameter string
	Err       error
}

func (e *BindingError) Error() string {
	if e.Parameter == "" {
		return fmt.Sprintf("element %s: %v", e.ElementID, e.Err)
	}
	return fmt.Sprintf("element %s (parameter %s): %v", e.ElementID, e.Parameter, e.Err)
}

func (e *BindingError) Unwrap() error {
	return e.Err
}
