package schema

import (
	"errors"
	"fmt"
)

// ValidationError reports the first path that failed validation.
type ValidationError struct {
	Path   string // JSONPath-like location, e.g. $.functions[0].name
	Reason string
	Value  any
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("%s: %s (got %T)", e.Path, e.Reason, e.Value)
}

// AsValidationError unwraps err into a *ValidationError when possible.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// ErrInvalidNotation is returned by ParseShortSchema for malformed input.
var ErrInvalidNotation = errors.New("invalid short-schema notation")
