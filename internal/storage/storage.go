// Package storage holds the durable client storage backends: small key/value
// stores that survive process restarts. The namespace is shared, so every
// backend only reads or writes the keys it is asked about.
package storage

import (
	"context"
	"errors"
	"fmt"

	"calmie/internal/config"
)

var (
	// ErrUnavailable marks a backend that cannot be used at all (disabled,
	// unreachable, read-only). Callers may degrade to in-memory state.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrQuotaExceeded marks a write rejected for lack of space.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrCorrupt marks stored data that cannot be parsed. The next Set or
	// Delete replaces it, so callers can recover by clearing their keys.
	ErrCorrupt = errors.New("storage data corrupt")
)

// Backend is a synchronous key/value store.
type Backend interface {
	// Get returns the values for the requested keys. Absent keys are omitted
	// from the result.
	Get(ctx context.Context, keys ...string) (map[string]string, error)
	// Set writes all entries. Backends apply the batch atomically where they
	// can and otherwise roll back the keys they managed to write.
	Set(ctx context.Context, entries map[string]string) error
	// Delete removes the keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return NewFile(cfg.File.Path)
	case "redis":
		return NewRedis(ctx, cfg.Redis)
	case "postgres":
		return NewPostgres(ctx, cfg.Postgres)
	case "s3":
		return NewObjectStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
