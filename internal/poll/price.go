package poll

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"stellar-wallet-sync/internal/domain"
	"stellar-wallet-sync/internal/observability"
	"stellar-wallet-sync/internal/pricing"
	"stellar-wallet-sync/internal/scheduler"
	"stellar-wallet-sync/internal/storage"
)

// DefaultPriceInterval is the default price polling cadence.
const DefaultPriceInterval = time.Minute

// PriceFetcher fetches quotes for a set of token ids. Implemented by
// *pricing.Client.
type PriceFetcher interface {
	FetchPrices(ctx context.Context, tokenIDs []string) (map[string]pricing.TokenPrice, error)
}

// BalanceSource supplies the current balance view. Implemented by
// *BalanceController.
type BalanceSource interface {
	Balances() []domain.Balance
}

// PriceController polls fiat prices for the tokens currently held. The
// token-id set is derived from the balance source on every cycle; an empty
// balance set short-circuits to a no-op success without a network call.
type PriceController struct {
	poller   *poller
	fetcher  PriceFetcher
	balances BalanceSource
	history  storage.PriceHistoryStore
	now      func() time.Time
	logger   *log.Logger

	mu       sync.RWMutex
	prices   map[string]pricing.TokenPrice
	fetchErr error
}

// PriceOption configures PriceController.
type PriceOption func(*priceConfig)

type priceConfig struct {
	sched    scheduler.Scheduler
	interval time.Duration
	history  storage.PriceHistoryStore
	now      func() time.Time
	logger   *log.Logger
}

// WithPriceScheduler sets the scheduler driving poll cycles.
func WithPriceScheduler(sched scheduler.Scheduler) PriceOption {
	return func(c *priceConfig) {
		c.sched = sched
	}
}

// WithPriceInterval sets the polling cadence.
func WithPriceInterval(interval time.Duration) PriceOption {
	return func(c *priceConfig) {
		c.interval = interval
	}
}

// WithPriceHistory enables recording successful polls to a history store.
func WithPriceHistory(history storage.PriceHistoryStore) PriceOption {
	return func(c *priceConfig) {
		c.history = history
	}
}

// WithPriceClock overrides the clock used for history timestamps.
func WithPriceClock(now func() time.Time) PriceOption {
	return func(c *priceConfig) {
		c.now = now
	}
}

// WithPriceLogger sets the logger for fetch failures.
func WithPriceLogger(logger *log.Logger) PriceOption {
	return func(c *priceConfig) {
		c.logger = logger
	}
}

// NewPriceController creates a PriceController over fetcher and balances.
func NewPriceController(fetcher PriceFetcher, balances BalanceSource, opts ...PriceOption) *PriceController {
	cfg := &priceConfig{
		sched:    scheduler.NewTimer(),
		interval: DefaultPriceInterval,
		now:      time.Now,
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	c := &PriceController{
		fetcher:  fetcher,
		balances: balances,
		history:  cfg.history,
		now:      cfg.now,
		logger:   cfg.logger,
		prices:   make(map[string]pricing.TokenPrice),
	}
	c.poller = newPoller("price", cfg.sched, cfg.interval,
		func(ctx context.Context, publicKey string, network domain.Network) {
			_ = c.FetchPricesForBalances(ctx)
		})
	return c
}

// StartPolling begins periodic price refreshes for (publicKey, network).
// Idempotent per pair.
func (c *PriceController) StartPolling(ctx context.Context, publicKey string, network domain.Network) {
	c.poller.start(ctx, publicKey, network)
}

// StopPolling ends the session for (publicKey, network). No-op when idle.
func (c *PriceController) StopPolling(publicKey string, network domain.Network) {
	c.poller.stop(publicKey, network)
}

// StopAll ends every session.
func (c *PriceController) StopAll() {
	c.poller.stopAll()
}

// FetchPricesForBalances runs one price refresh over the token ids derived
// from the current balance view. Success replaces the price map wholesale;
// failure preserves the previous prices and raises the error flag.
func (c *PriceController) FetchPricesForBalances(ctx context.Context) error {
	start := time.Now()

	ids := c.tokenIDs()
	if len(ids) == 0 {
		observability.RecordPollCycle("price", "empty", time.Since(start).Seconds())
		return nil
	}

	quotes, err := c.fetcher.FetchPrices(ctx, ids)
	if err != nil {
		c.mu.Lock()
		c.fetchErr = err
		c.mu.Unlock()

		c.logger.Printf("price poll for %d tokens failed: %v", len(ids), err)
		observability.RecordPollCycle("price", "error", time.Since(start).Seconds())
		return err
	}

	c.mu.Lock()
	c.prices = quotes
	c.fetchErr = nil
	c.mu.Unlock()

	c.recordHistory(ctx, quotes)

	observability.RecordPollCycle("price", "success", time.Since(start).Seconds())
	observability.DefaultMetrics.LastSuccessfulPricePoll.SetToCurrentTime()
	return nil
}

// tokenIDs derives the token-id set from the balance source. Balances()
// returns ids sorted, keeping the request body deterministic.
func (c *PriceController) tokenIDs() []string {
	balances := c.balances.Balances()
	ids := make([]string, 0, len(balances))
	for _, b := range balances {
		ids = append(ids, b.ID)
	}
	return ids
}

// recordHistory appends the poll's quotes to the history store, when one is
// configured. History is best-effort: a write failure is logged and does not
// fail the poll.
func (c *PriceController) recordHistory(ctx context.Context, quotes map[string]pricing.TokenPrice) {
	if c.history == nil || len(quotes) == 0 {
		return
	}

	ts := c.now().UnixMilli()
	points := make([]*domain.PricePoint, 0, len(quotes))
	for id, quote := range quotes {
		points = append(points, &domain.PricePoint{
			TokenID:            id,
			TimestampMs:        ts,
			Price:              quote.CurrentPrice,
			PriceChangePercent: quote.PriceChangePercent,
		})
	}

	if err := c.history.InsertBulk(ctx, points); err != nil {
		c.logger.Printf("price history insert failed: %v", err)
	}
}

// Prices returns a copy of the current price map.
func (c *PriceController) Prices() map[string]pricing.TokenPrice {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]pricing.TokenPrice, len(c.prices))
	for id, quote := range c.prices {
		out[id] = quote
	}
	return out
}

// PricedBalances joins the current balance view with the current prices.
// Balances without a known quote carry a zero price.
func (c *PriceController) PricedBalances() []domain.PricedBalance {
	balances := c.balances.Balances()

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.PricedBalance, 0, len(balances))
	for _, b := range balances {
		priced := domain.PricedBalance{Balance: b}
		if quote, ok := c.prices[b.ID]; ok {
			priced.CurrentPrice = quote.CurrentPrice
			priced.PriceChangePercent = quote.PriceChangePercent
		}
		out = append(out, priced)
	}
	return out
}

// LastError returns the error flag from the most recent fetch, or nil after
// a successful fetch.
func (c *PriceController) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchErr
}
