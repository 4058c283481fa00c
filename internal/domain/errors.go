package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrActiveIdentity    = errors.New("character already has an active identity")
	ErrInvalidTransition = errors.New("invalid status transition")
)
