package session

import (
	"errors"

	"calmie/internal/storage"
)

var (
	// ErrInvalidLoginArguments is returned by Login when the token is empty or
	// the profile does not satisfy the stored schema.
	ErrInvalidLoginArguments = errors.New("invalid login arguments")
	// ErrMalformedSession marks a stored user value that could not be decoded.
	// Initialize recovers from it by clearing storage; it only shows up in logs.
	ErrMalformedSession = errors.New("malformed session data")
	// ErrStorageUnavailable is the storage sentinel that switches the store to
	// memory-only mode.
	ErrStorageUnavailable = storage.ErrUnavailable
	// ErrNotAuthenticated is returned by gated operations when nobody is
	// signed in.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSessionUnresolved is returned by gated operations before Initialize
	// has completed.
	ErrSessionUnresolved = errors.New("session not yet resolved")
)
