package storage

import (
	"context"

	"stellar-wallet-sync/internal/domain"
)

// KVStore is a string-keyed byte store backing the persistent TTL cache.
// Writes are last-write-wins; values are idempotent re-fetch results,
// not user edits, so no cross-consumer locking is required.
type KVStore interface {
	// Get retrieves the value stored under key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the value stored under key. Missing keys are a no-op.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries (logout path).
	Clear(ctx context.Context) error
}

// PriceHistoryStore records price observations from successful price polls.
type PriceHistoryStore interface {
	// InsertBulk appends multiple price points.
	InsertBulk(ctx context.Context, points []*domain.PricePoint) error

	// GetByToken retrieves all points for a token, ordered by timestamp ASC.
	GetByToken(ctx context.Context, tokenID string) ([]*domain.PricePoint, error)
}
