// Package cache provides a persistent TTL cache with stale-if-error
// semantics on top of a storage.KVStore. A failed refresh never propagates
// past this boundary and never discards a previously good value.
package cache

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"strconv"
	"time"

	"stellar-wallet-sync/internal/observability"
	"stellar-wallet-sync/internal/storage"
)

// DefaultTTL is the staleness window used by the icon/token-list subsystem.
const DefaultTTL = 7 * 24 * time.Hour

// dateKeySuffix is appended to a cache key to form the key holding the
// epoch-millisecond timestamp of the last successful write.
const dateKeySuffix = "_date"

// FetchFunc produces a fresh value for a cache key.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Result is the outcome of a cache lookup. Stale reports that the value (if
// any) predates a refresh attempt that failed; Err carries that fetch error.
// Callers render best-effort data and never need to branch on exceptions.
type Result struct {
	Value []byte
	Stale bool
	Err   error
}

// Cache is a TTL-based cache persisted through a storage.KVStore.
// Each logical entry occupies two keys: `<key>` for the value and
// `<key>_date` for the timestamp of the last successful write.
type Cache struct {
	store  storage.KVStore
	now    func() time.Time
	logger *log.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger for recovered fetch errors.
func WithLogger(logger *log.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a Cache backed by the given store.
func New(store storage.KVStore, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		now:    time.Now,
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrFetch returns the stored value for key when it is younger than ttl,
// otherwise invokes fetch. On fetch success the new value and timestamp are
// persisted. On fetch failure the previously stored value (possibly absent)
// is returned marked Stale, with the fetch error attached.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) Result {
	return c.getOrFetch(ctx, key, ttl, fetch, nil)
}

// Clear drops all persisted entries (logout path).
func (c *Cache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// getOrFetch implements the lookup. A non-nil validate rejects corrupt stored
// payloads, which are then treated as absent rather than as a hard error.
func (c *Cache) getOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc, validate func([]byte) bool) Result {
	stored, storedAt, found := c.lookup(ctx, key)
	if found && validate != nil && !validate(stored) {
		c.logger.Printf("cache: corrupt payload for %q, treating as absent", key)
		stored = nil
		found = false
	}

	// An entry without a timestamp is treated as stale and forces a refetch.
	if found && !storedAt.IsZero() && c.now().Sub(storedAt) < ttl {
		observability.RecordCacheLookup("hit")
		return Result{Value: stored}
	}
	observability.RecordCacheLookup("miss")

	fresh, err := fetch(ctx)
	if err != nil {
		c.logger.Printf("cache: refresh %q failed, serving stored value: %v", key, err)
		observability.RecordCacheLookup("stale_fallback")
		return Result{Value: stored, Stale: true, Err: err}
	}

	c.persist(ctx, key, fresh)
	return Result{Value: fresh}
}

// lookup reads the stored value and its timestamp. A missing or unparsable
// timestamp yields the zero time, which getOrFetch treats as stale.
func (c *Cache) lookup(ctx context.Context, key string) ([]byte, time.Time, bool) {
	value, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, time.Time{}, false
	}

	rawDate, err := c.store.Get(ctx, key+dateKeySuffix)
	if err != nil {
		return value, time.Time{}, true
	}

	epochMs, err := strconv.ParseInt(string(rawDate), 10, 64)
	if err != nil {
		c.logger.Printf("cache: corrupt timestamp for %q, treating entry as stale", key)
		return value, time.Time{}, true
	}

	return value, time.UnixMilli(epochMs), true
}

// persist writes the value and the current timestamp. Write failures are
// logged and otherwise ignored: the fresh value is still returned to the
// caller, the entry simply stays stale for the next lookup.
func (c *Cache) persist(ctx context.Context, key string, value []byte) {
	if err := c.store.Set(ctx, key, value); err != nil {
		c.logger.Printf("cache: persist %q failed: %v", key, err)
		return
	}
	epochMs := strconv.FormatInt(c.now().UnixMilli(), 10)
	if err := c.store.Set(ctx, key+dateKeySuffix, []byte(epochMs)); err != nil {
		c.logger.Printf("cache: persist %q timestamp failed: %v", key, err)
	}
}

// GetOrFetchJSON is a typed wrapper over Cache.GetOrFetch for JSON payloads.
// Stored payloads that fail to decode into T are treated as absent.
func GetOrFetchJSON[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, Result) {
	var zero T

	res := c.getOrFetch(ctx, key, ttl,
		func(ctx context.Context) ([]byte, error) {
			v, err := fetch(ctx)
			if err != nil {
				return nil, err
			}
			return json.Marshal(v)
		},
		func(raw []byte) bool {
			var probe T
			return json.Unmarshal(raw, &probe) == nil
		},
	)
	if len(res.Value) == 0 {
		return zero, res
	}

	var out T
	if err := json.Unmarshal(res.Value, &out); err != nil {
		res.Err = err
		return zero, res
	}
	return out, res
}
