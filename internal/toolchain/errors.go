package toolchain

import "errors"

var (
	ErrUnavailable     = errors.New("toolchain unavailable")
	ErrInvalidSelector = errors.New("invalid toolchain selector")
)
