package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stellar-wallet-sync/internal/storage/memory"
)

func TestGetOrFetch_FreshEntrySkipsFetch(t *testing.T) {
	store := memory.NewKVStore()
	now := time.Unix(1700000000, 0)
	c := New(store, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	fetches := 0
	fetch := func(context.Context) ([]byte, error) {
		fetches++
		return []byte("v1"), nil
	}

	res := c.GetOrFetch(ctx, "k", time.Hour, fetch)
	require.NoError(t, res.Err)
	assert.Equal(t, "v1", string(res.Value))
	assert.Equal(t, 1, fetches)

	// Within the TTL the stored value is returned without fetching.
	now = now.Add(30 * time.Minute)
	res = c.GetOrFetch(ctx, "k", time.Hour, fetch)
	assert.Equal(t, "v1", string(res.Value))
	assert.False(t, res.Stale)
	assert.Equal(t, 1, fetches)
}

func TestGetOrFetch_ExpiredEntryRefetches(t *testing.T) {
	store := memory.NewKVStore()
	now := time.Unix(1700000000, 0)
	c := New(store, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	values := []string{"v1", "v2"}
	fetches := 0
	fetch := func(context.Context) ([]byte, error) {
		v := values[fetches]
		fetches++
		return []byte(v), nil
	}

	c.GetOrFetch(ctx, "k", time.Hour, fetch)

	now = now.Add(2 * time.Hour)
	res := c.GetOrFetch(ctx, "k", time.Hour, fetch)
	assert.Equal(t, "v2", string(res.Value))
	assert.False(t, res.Stale)
	assert.Equal(t, 2, fetches)
}

func TestGetOrFetch_StaleIfError(t *testing.T) {
	store := memory.NewKVStore()
	now := time.Unix(1700000000, 0)
	c := New(store, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	c.GetOrFetch(ctx, "k", time.Hour, func(context.Context) ([]byte, error) {
		return []byte("good"), nil
	})

	now = now.Add(2 * time.Hour)
	fetchErr := errors.New("service unavailable")
	res := c.GetOrFetch(ctx, "k", time.Hour, func(context.Context) ([]byte, error) {
		return nil, fetchErr
	})

	// Failed refresh serves the previously good value, marked stale.
	assert.Equal(t, "good", string(res.Value))
	assert.True(t, res.Stale)
	assert.ErrorIs(t, res.Err, fetchErr)

	// The stored value is not discarded.
	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "good", string(v))
}

func TestGetOrFetch_FetchErrorWithNothingStored(t *testing.T) {
	c := New(memory.NewKVStore())

	res := c.GetOrFetch(context.Background(), "k", time.Hour, func(context.Context) ([]byte, error) {
		return nil, errors.New("boom")
	})

	assert.Nil(t, res.Value)
	assert.True(t, res.Stale)
	assert.Error(t, res.Err)
}

func TestGetOrFetch_MissingTimestampForcesRefetch(t *testing.T) {
	store := memory.NewKVStore()
	ctx := context.Background()

	// Value persisted without its companion timestamp key.
	require.NoError(t, store.Set(ctx, "k", []byte("orphan")))

	c := New(store)
	fetches := 0
	res := c.GetOrFetch(ctx, "k", time.Hour, func(context.Context) ([]byte, error) {
		fetches++
		return []byte("fresh"), nil
	})

	assert.Equal(t, 1, fetches)
	assert.Equal(t, "fresh", string(res.Value))
}

func TestGetOrFetch_CorruptTimestampForcesRefetch(t *testing.T) {
	store := memory.NewKVStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("old")))
	require.NoError(t, store.Set(ctx, "k_date", []byte("not-a-number")))

	c := New(store)
	fetches := 0
	res := c.GetOrFetch(ctx, "k", time.Hour, func(context.Context) ([]byte, error) {
		fetches++
		return []byte("fresh"), nil
	})

	assert.Equal(t, 1, fetches)
	assert.Equal(t, "fresh", string(res.Value))
}

func TestGetOrFetchJSON_RoundTrip(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	store := memory.NewKVStore()
	now := time.Unix(1700000000, 0)
	c := New(store, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	fetches := 0
	fetch := func(context.Context) (payload, error) {
		fetches++
		return payload{Name: "tokens", Count: 3}, nil
	}

	got, res := GetOrFetchJSON(ctx, c, "k", time.Hour, fetch)
	require.NoError(t, res.Err)
	assert.Equal(t, payload{Name: "tokens", Count: 3}, got)

	got, res = GetOrFetchJSON(ctx, c, "k", time.Hour, fetch)
	require.NoError(t, res.Err)
	assert.Equal(t, payload{Name: "tokens", Count: 3}, got)
	assert.Equal(t, 1, fetches, "fresh entry must not refetch")
}

func TestGetOrFetchJSON_CorruptStoredPayloadTreatedAbsent(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	store := memory.NewKVStore()
	now := time.Unix(1700000000, 0)
	c := New(store, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	// Fresh-looking entry whose payload does not parse.
	require.NoError(t, store.Set(ctx, "k", []byte("{corrupt")))
	require.NoError(t, store.Set(ctx, "k_date", []byte("1700000000000")))

	fetches := 0
	got, res := GetOrFetchJSON(ctx, c, "k", time.Hour, func(context.Context) (payload, error) {
		fetches++
		return payload{Name: "fresh"}, nil
	})

	require.NoError(t, res.Err)
	assert.Equal(t, 1, fetches, "corrupt payload must trigger a fresh fetch")
	assert.Equal(t, "fresh", got.Name)
}

func TestClear(t *testing.T) {
	store := memory.NewKVStore()
	c := New(store)
	ctx := context.Background()

	c.GetOrFetch(ctx, "k", time.Hour, func(context.Context) ([]byte, error) {
		return []byte("v"), nil
	})

	require.NoError(t, c.Clear(ctx))

	fetches := 0
	c.GetOrFetch(ctx, "k", time.Hour, func(context.Context) ([]byte, error) {
		fetches++
		return []byte("v"), nil
	})
	assert.Equal(t, 1, fetches)
}
