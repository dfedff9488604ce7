package model

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is wrapped by every validation failure in this package and
// in the packages built on top of it.
var ErrInvalidInput = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
