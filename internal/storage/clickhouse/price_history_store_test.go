package clickhouse

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stellar-wallet-sync/internal/domain"
)

func TestPriceHistoryStore_InsertAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPriceHistoryStore(conn)
	ctx := context.Background()

	change := decimal.NewFromFloat(-1.5)
	points := []*domain.PricePoint{
		{TokenID: "USDC:GA5ZSE", TimestampMs: 1704067200000, Price: decimal.NewFromFloat(0.999)},
		{TokenID: "USDC:GA5ZSE", TimestampMs: 1704067260000, Price: decimal.NewFromFloat(1.001), PriceChangePercent: &change},
		{TokenID: "native", TimestampMs: 1704067200000, Price: decimal.NewFromFloat(0.12)},
	}
	require.NoError(t, store.InsertBulk(ctx, points))

	got, err := store.GetByToken(ctx, "USDC:GA5ZSE")
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Ordered by timestamp ASC.
	assert.Equal(t, int64(1704067200000), got[0].TimestampMs)
	assert.Equal(t, int64(1704067260000), got[1].TimestampMs)
	assert.True(t, got[1].Price.Equal(decimal.NewFromFloat(1.001)), "price mismatch: %s", got[1].Price)
	require.NotNil(t, got[1].PriceChangePercent)
	assert.True(t, got[1].PriceChangePercent.Equal(change))
	assert.Nil(t, got[0].PriceChangePercent)
}

func TestPriceHistoryStore_InsertEmptyBatch(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPriceHistoryStore(conn)
	require.NoError(t, store.InsertBulk(context.Background(), nil))
}

func TestPriceHistoryStore_GetUnknownToken(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPriceHistoryStore(conn)

	got, err := store.GetByToken(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, got)
}
