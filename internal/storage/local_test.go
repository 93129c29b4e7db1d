package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestStoreRetrieveDelete(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()

	key := PhotoKey("child-1", "mission-1", "snap.jpg")
	if !strings.HasPrefix(key, "missions/child-1/mission-1/") || !strings.HasSuffix(key, ".jpg") {
		t.Fatalf("unexpected key shape: %s", key)
	}

	if err := l.Store(ctx, key, strings.NewReader("jpeg bytes")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	rc, err := l.Retrieve(ctx, key)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "jpeg bytes" {
		t.Fatalf("round trip mismatch: %q", data)
	}

	if err := l.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := l.Retrieve(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestTraversalRejected(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{
		"../outside.txt",
		"missions/../../etc/passwd",
		"/etc/passwd",
		"missions//double.jpg",
		"",
	} {
		if err := l.Store(ctx, key, strings.NewReader("x")); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q should be rejected, got %v", key, err)
		}
	}
}
