package tlerrors

import "errors"

// Common errors shared across the client runtime and the dev server.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNoCredential   = errors.New("no credential available")
	ErrNotCached      = errors.New("entity not in local cache")
	ErrNotConnected   = errors.New("transport not connected")
	ErrAlreadyStarted = errors.New("session already started")
	ErrClosed         = errors.New("session closed")
	ErrUnavailable    = errors.New("service unavailable")
)
