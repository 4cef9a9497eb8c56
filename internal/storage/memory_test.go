package storage

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemory())
}

func TestDisabledBackendReportsUnavailable(t *testing.T) {
	ctx := context.Background()
	var b Backend = Disabled{}

	if _, err := b.Get(ctx, "token"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from get, got %v", err)
	}
	if err := b.Set(ctx, map[string]string{"token": "x"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from set, got %v", err)
	}
	if err := b.Delete(ctx, "token"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from delete, got %v", err)
	}
}
