package scripts

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("script not found")
	ErrConflict    = errors.New("script already exists")
	ErrInvalidName = errors.New("invalid script name")
)

// NameError reports a name that sanitizes to nothing.
type NameError struct {
	Name string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("invalid script name %q", e.Name)
}

func (e *NameError) Unwrap() error { return ErrInvalidName }
