package storage

import "context"

// Disabled rejects every operation with ErrUnavailable. It stands in for a
// backend that could not be opened so callers can run in degraded mode.
type Disabled struct {
	Reason error
}

func (d Disabled) err() error {
	if d.Reason != nil {
		return d.Reason
	}
	return ErrUnavailable
}

func (d Disabled) Get(context.Context, ...string) (map[string]string, error) {
	return nil, d.err()
}

func (d Disabled) Set(context.Context, map[string]string) error {
	return d.err()
}

func (d Disabled) Delete(context.Context, ...string) error {
	return d.err()
}

func (d Disabled) Close() error {
	return nil
}
