package poll

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stellar-wallet-sync/internal/domain"
	"stellar-wallet-sync/internal/horizon"
	"stellar-wallet-sync/internal/observability"
	"stellar-wallet-sync/internal/scheduler"
)

// DefaultBalanceInterval is the default balance polling cadence.
const DefaultBalanceInterval = 30 * time.Second

// AccountLoader loads ledger account records. Implemented by *horizon.Client.
type AccountLoader interface {
	AccountDetail(ctx context.Context, accountID string) (*horizon.Account, error)
}

// BalanceController polls account balances and owns the in-memory balance
// map. A successful fetch replaces the map wholesale; a failed fetch keeps
// the previous map and raises the error flag.
type BalanceController struct {
	poller    *poller
	newLoader func(horizonURL string) AccountLoader
	networks  map[domain.Network]domain.NetworkDetails
	logger    *log.Logger

	mu       sync.RWMutex
	balances map[string]domain.Balance
	fetchErr error
}

// BalanceOption configures BalanceController.
type BalanceOption func(*balanceConfig)

type balanceConfig struct {
	sched     scheduler.Scheduler
	interval  time.Duration
	newLoader func(horizonURL string) AccountLoader
	logger    *log.Logger
}

// WithBalanceScheduler sets the scheduler driving poll cycles.
func WithBalanceScheduler(sched scheduler.Scheduler) BalanceOption {
	return func(c *balanceConfig) {
		c.sched = sched
	}
}

// WithBalanceInterval sets the polling cadence.
func WithBalanceInterval(interval time.Duration) BalanceOption {
	return func(c *balanceConfig) {
		c.interval = interval
	}
}

// WithBalanceLoader overrides how account loaders are built per network.
func WithBalanceLoader(newLoader func(horizonURL string) AccountLoader) BalanceOption {
	return func(c *balanceConfig) {
		c.newLoader = newLoader
	}
}

// WithBalanceLogger sets the logger for fetch failures.
func WithBalanceLogger(logger *log.Logger) BalanceOption {
	return func(c *balanceConfig) {
		c.logger = logger
	}
}

// NewBalanceController creates a BalanceController over the given network
// registry.
func NewBalanceController(networks map[domain.Network]domain.NetworkDetails, opts ...BalanceOption) *BalanceController {
	cfg := &balanceConfig{
		sched:    scheduler.NewTimer(),
		interval: DefaultBalanceInterval,
		newLoader: func(horizonURL string) AccountLoader {
			return horizon.NewClient(horizonURL)
		},
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	c := &BalanceController{
		newLoader: cfg.newLoader,
		networks:  networks,
		logger:    cfg.logger,
		balances:  make(map[string]domain.Balance),
	}
	c.poller = newPoller("balance", cfg.sched, cfg.interval,
		func(ctx context.Context, publicKey string, network domain.Network) {
			// Failures are already flagged and logged by the fetch itself.
			_ = c.FetchAccountBalances(ctx, publicKey, network)
		})
	return c
}

// StartPolling begins periodic balance refreshes for (publicKey, network).
// Idempotent: a second start for the same pair is a no-op.
func (c *BalanceController) StartPolling(ctx context.Context, publicKey string, network domain.Network) {
	c.poller.start(ctx, publicKey, network)
}

// StopPolling ends the session for (publicKey, network). No-op when idle.
func (c *BalanceController) StopPolling(publicKey string, network domain.Network) {
	c.poller.stop(publicKey, network)
}

// StopAll ends every session.
func (c *BalanceController) StopAll() {
	c.poller.stopAll()
}

// Polling reports whether a session is active for (publicKey, network).
func (c *BalanceController) Polling(publicKey string, network domain.Network) bool {
	return c.poller.active(publicKey, network)
}

// FetchAccountBalances runs one balance refresh. On success the balance map
// is replaced wholesale and the error flag cleared; on failure the previous
// map is preserved and the error flag raised.
func (c *BalanceController) FetchAccountBalances(ctx context.Context, publicKey string, network domain.Network) error {
	start := time.Now()

	next, err := c.loadBalances(ctx, publicKey, network)
	if err != nil {
		c.mu.Lock()
		c.fetchErr = err
		c.mu.Unlock()

		c.logger.Printf("balance poll for %s on %s failed: %v", publicKey, network, err)
		observability.RecordPollCycle("balance", "error", time.Since(start).Seconds())
		return err
	}

	c.mu.Lock()
	c.balances = next
	c.fetchErr = nil
	c.mu.Unlock()

	observability.RecordPollCycle("balance", "success", time.Since(start).Seconds())
	observability.DefaultMetrics.LastSuccessfulBalancePoll.SetToCurrentTime()
	return nil
}

func (c *BalanceController) loadBalances(ctx context.Context, publicKey string, network domain.Network) (map[string]domain.Balance, error) {
	details, ok := c.networks[network]
	if !ok {
		return nil, fmt.Errorf("unknown network %q", network)
	}

	account, err := c.newLoader(details.HorizonURL).AccountDetail(ctx, publicKey)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	next := make(map[string]domain.Balance, len(account.Balances))
	for _, line := range account.Balances {
		balance, err := balanceFromLine(line)
		if err != nil {
			return nil, err
		}
		next[balance.ID] = balance
	}
	return next, nil
}

// balanceFromLine converts one account-record balance line. A line that
// fails to parse fails the whole fetch: a partially parsed map would violate
// the wholesale-replace contract.
func balanceFromLine(line horizon.AccountBalance) (domain.Balance, error) {
	total, err := decimal.NewFromString(line.Balance)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("parse balance %q: %w", line.Balance, err)
	}

	if line.AssetType == "native" {
		return domain.Balance{ID: domain.NativeBalanceID, Total: total}, nil
	}
	return domain.Balance{
		ID:    line.AssetCode + ":" + line.AssetIssuer,
		Total: total,
		Asset: domain.Asset{Code: line.AssetCode, Issuer: line.AssetIssuer},
	}, nil
}

// Balances returns a copy of the current balance map as a slice sorted by
// token id.
func (c *BalanceController) Balances() []domain.Balance {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Balance, 0, len(c.balances))
	for _, b := range c.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LastError returns the error flag from the most recent fetch, or nil after
// a successful fetch.
func (c *BalanceController) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchErr
}
