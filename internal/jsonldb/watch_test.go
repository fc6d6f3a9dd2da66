package jsonldb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestWatch(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.jsonl")
	table, err := Open(path, "id", nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	changed := make(chan struct{}, 1)
	if err := table.Watch(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changed:
		t.Fatal("callback fired for another file")
	case <-time.After(4 * watchDebounce):
	}

	other, err := Open(path, "id", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := other.Insert(Record{"id": "1"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("callback not called after a write")
	}
	got, found, err := table.FindByID("1")
	if err != nil || !found {
		t.Errorf("FindByID = %v, %v, %v", got, found, err)
	}
	cancel()
}

func TestWatchMissingDir(t *testing.T) {
	table, err := Open(filepath.Join(t.TempDir(), "sub", "t.jsonl"), "id", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(filepath.Dir(table.Path())); err != nil {
		t.Fatal(err)
	}
	if err := table.Watch(t.Context(), func() {}); err == nil {
		t.Error("Watch on a missing directory succeeded")
	}
}
