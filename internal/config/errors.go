package config

import "errors"

var (
	ErrInvalidPipeline = errors.New("invalid pipeline")
	ErrLoad            = errors.New("failed to load pipeline")
)
