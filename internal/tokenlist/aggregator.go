// Package tokenlist fetches "verified token" datasets from the configured
// list services and merges them, tolerating partial failure.
package tokenlist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"stellar-wallet-sync/internal/cache"
	"stellar-wallet-sync/internal/domain"
	"stellar-wallet-sync/internal/observability"
)

// Service is one configured verified-token-list endpoint.
type Service struct {
	Name string
	URL  string
}

// DefaultServices returns the static per-network service registry.
func DefaultServices() map[domain.Network][]Service {
	return map[domain.Network][]Service{
		domain.NetworkPublic: {
			{Name: "wallet-curated", URL: "https://api.stellar.expert/explorer/public/asset-list/top50"},
			{Name: "community", URL: "https://lobstr.co/api/v1/sep/assets/curated.json"},
		},
		domain.NetworkTestnet: {
			{Name: "wallet-curated", URL: "https://api.stellar.expert/explorer/testnet/asset-list/top50"},
		},
	}
}

// serviceResponse is the expected JSON body of a list service.
type serviceResponse struct {
	Assets []domain.VerifiedToken `json:"assets"`
}

// Aggregator merges verified-token datasets from all configured services for
// a network. Results are cached per network so repeated lookups within the
// staleness window incur no network cost.
type Aggregator struct {
	services map[domain.Network][]Service
	cache    *cache.Cache
	client   *http.Client
	ttl      time.Duration
	logger   *log.Logger
}

// AggregatorOption configures Aggregator.
type AggregatorOption func(*Aggregator)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) AggregatorOption {
	return func(a *Aggregator) {
		a.client = client
	}
}

// WithTTL overrides the cache staleness window.
func WithTTL(ttl time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		a.ttl = ttl
	}
}

// WithLogger sets the logger for per-service failures.
func WithLogger(logger *log.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// NewAggregator creates an Aggregator over the given service registry.
func NewAggregator(services map[domain.Network][]Service, c *cache.Cache, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		services: services,
		cache:    c,
		client:   &http.Client{Timeout: 15 * time.Second},
		ttl:      cache.DefaultTTL,
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FetchVerifiedTokens returns the merged verified-token list for network.
// An empty list means "no verified data available", never an error: callers
// fall through to their own fallbacks.
func (a *Aggregator) FetchVerifiedTokens(ctx context.Context, network domain.Network) []domain.VerifiedToken {
	key := fmt.Sprintf("verified_tokens_%s", network)

	tokens, _ := cache.GetOrFetchJSON(ctx, a.cache, key, a.ttl,
		func(ctx context.Context) ([]domain.VerifiedToken, error) {
			return a.fetchAll(ctx, network)
		})
	if tokens == nil {
		return []domain.VerifiedToken{}
	}
	return tokens
}

// fetchAll issues one fetch per configured service concurrently and waits
// for all to settle. Successful responses are concatenated in
// service-declaration order; failures are logged and contribute nothing.
// All services failing is reported as an error so the cache layer can serve
// the previous good list instead of overwriting it with nothing.
func (a *Aggregator) fetchAll(ctx context.Context, network domain.Network) ([]domain.VerifiedToken, error) {
	services := a.services[network]
	if len(services) == 0 {
		return []domain.VerifiedToken{}, nil
	}

	results := make([][]domain.VerifiedToken, len(services))
	errs := make([]error, len(services))

	var wg sync.WaitGroup
	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc Service) {
			defer wg.Done()
			results[i], errs[i] = a.fetchService(ctx, svc)
		}(i, svc)
	}
	wg.Wait()

	var merged []domain.VerifiedToken
	failures := 0
	for i, svc := range services {
		if errs[i] != nil {
			failures++
			a.logger.Printf("token list service %s (%s) failed: %v", svc.Name, svc.URL, errs[i])
			observability.RecordTokenListFailure(svc.Name)
			continue
		}
		merged = append(merged, results[i]...)
	}

	switch {
	case failures == len(services):
		observability.RecordAggregationPass("empty")
		return nil, fmt.Errorf("all %d token list services failed for %s", len(services), network)
	case failures > 0:
		observability.RecordAggregationPass("partial")
	default:
		observability.RecordAggregationPass("full")
	}

	return merged, nil
}

// fetchService fetches and decodes one service's dataset.
func (a *Aggregator) fetchService(ctx context.Context, svc Service) ([]domain.VerifiedToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body serviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return body.Assets, nil
}
