// Package validate describes rejected user input.
package validate

import "errors"

// ErrInvalid matches every *Error with errors.Is.
var ErrInvalid = errors.New("invalid input")

// Error is a user-facing input problem. Missing is set when the field was
// not supplied at all.
type Error struct {
	Field   string
	Message string
	Missing bool
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}

func Missing(field string) error {
	return &Error{Field: field, Message: "must provide " + field, Missing: true}
}

func Invalid(field, message string) error {
	return &Error{Field: field, Message: message}
}

// Required returns a Missing error for the first empty value. Arguments are
// name/value pairs.
func Required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return Missing(pairs[i])
		}
	}
	return nil
}
