package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrPersonaNotFound = errors.New("persona not found")
	ErrInvalidPersona  = errors.New("invalid persona")
	ErrNotConfigured   = errors.New("generation backend not configured")
)
