package memory

import (
	"context"
	"errors"
	"testing"

	"stellar-wallet-sync/internal/storage"
)

func TestKVStore_SetAndGet(t *testing.T) {
	store := NewKVStore()
	ctx := context.Background()

	if err := store.Set(ctx, "icon_url", []byte("https://example.com/icon.png")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, err := store.Get(ctx, "icon_url")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if string(v) != "https://example.com/icon.png" {
		t.Errorf("value mismatch: got %s", v)
	}
}

func TestKVStore_GetMissing(t *testing.T) {
	store := NewKVStore()

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestKVStore_SetOverwrites(t *testing.T) {
	store := NewKVStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("old")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, "k", []byte("new")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(v) != "new" {
		t.Errorf("expected overwritten value, got %s", v)
	}
}

func TestKVStore_GetReturnsCopy(t *testing.T) {
	store := NewKVStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("abc")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	v[0] = 'X'

	again, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(again) != "abc" {
		t.Errorf("stored value was mutated through returned slice: %s", again)
	}
}

func TestKVStore_DeleteAndClear(t *testing.T) {
	store := NewKVStore()
	ctx := context.Background()

	if err := store.Set(ctx, "a", []byte("1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, "b", []byte("2")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing key is a no-op.
	if err := store.Delete(ctx, "a"); err != nil {
		t.Errorf("Delete of missing key should not error: %v", err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := store.Get(ctx, "b"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after clear, got %v", err)
	}
}

func TestKVStore_EmptyKey(t *testing.T) {
	store := NewKVStore()
	ctx := context.Background()

	if err := store.Set(ctx, "", []byte("v")); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := store.Get(ctx, ""); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
