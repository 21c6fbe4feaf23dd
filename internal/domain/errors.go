// Package domain errors.go contains sentinel errors
package domain

import "errors"

// Sentinel domain-level errors reused by higher layers.
var (
	ErrInvalidID         = errors.New("invalid post id")
	ErrInvalidInput      = errors.New("invalid input")
	ErrPartialAttachment = errors.New("partial attachment")
)
