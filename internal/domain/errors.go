package domain

import "errors"

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidRequest indicates invalid request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnsupportedFormat indicates an unknown export format
	ErrUnsupportedFormat = errors.New("unsupported export format")
)
