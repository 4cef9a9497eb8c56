package storage

import (
	"context"
	"testing"
)

// exerciseBackend runs the behaviour every backend must share.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	got, err := b.Get(ctx, "token", "user")
	if err != nil {
		t.Fatalf("get on empty backend: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no values, got %v", got)
	}

	if err := b.Set(ctx, map[string]string{"token": "tok-1", "user": `{"id":1}`, "theme": "dark"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err = b.Get(ctx, "token", "user", "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got["token"] != "tok-1" || got["user"] != `{"id":1}` {
		t.Fatalf("unexpected values %v", got)
	}
	if _, ok := got["missing"]; ok {
		t.Fatalf("absent key must be omitted, got %v", got)
	}

	if err := b.Set(ctx, map[string]string{"token": "tok-2"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err = b.Get(ctx, "token")
	if err != nil {
		t.Fatalf("get after overwrite: %v", err)
	}
	if got["token"] != "tok-2" {
		t.Fatalf("expected overwritten token, got %v", got)
	}

	if err := b.Delete(ctx, "token", "user"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := b.Delete(ctx, "token", "user"); err != nil {
		t.Fatalf("second delete must be a no-op: %v", err)
	}

	got, err = b.Get(ctx, "token", "user", "theme")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if len(got) != 1 || got["theme"] != "dark" {
		t.Fatalf("unrelated keys must survive delete, got %v", got)
	}
}
