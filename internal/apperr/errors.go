// Package apperr defines the sentinel errors shared across loom packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalid       = errors.New("invalid")

	// ErrAuthExpired is returned when the provider rejects a request even
	// after one credential refresh.
	ErrAuthExpired = errors.New("auth expired")
	// ErrNotInitialized is returned when remote folders have not been bootstrapped.
	ErrNotInitialized = errors.New("not initialized")
	// ErrRemoteUnavailable covers network failures and 5xx responses.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	ErrOffline           = errors.New("offline mode")
)
