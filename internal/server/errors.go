package server

import (
	"errors"
	"fmt"
)

var (
	ErrServer     = errors.New("server error")
	ErrBadRequest = errors.New("bad request")
)

// Wraps err under a sentinel so both match errors.Is.
func wrap(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}

func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
