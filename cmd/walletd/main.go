// Package main provides the unified wallet sync daemon:
// - Balance/price polling (continuous): idempotent per-account controllers
// - Icon resolution (on demand): token lists, then issuer metadata
// - Transaction submission (on demand): retried with exponential backoff
// - Pairing relay (continuous): single-slot event store fed by the relay
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"stellar-wallet-sync/internal/cache"
	"stellar-wallet-sync/internal/domain"
	"stellar-wallet-sync/internal/horizon"
	"stellar-wallet-sync/internal/icons"
	"stellar-wallet-sync/internal/issuermeta"
	"stellar-wallet-sync/internal/observability"
	"stellar-wallet-sync/internal/pairing"
	"stellar-wallet-sync/internal/poll"
	"stellar-wallet-sync/internal/pricing"
	"stellar-wallet-sync/internal/storage"
	chstore "stellar-wallet-sync/internal/storage/clickhouse"
	"stellar-wallet-sync/internal/storage/memory"
	pgstore "stellar-wallet-sync/internal/storage/postgres"
	"stellar-wallet-sync/internal/submit"
	"stellar-wallet-sync/internal/tokenlist"
)

// defaultNetworks is the built-in network registry.
func defaultNetworks(publicURL, testnetURL string) map[domain.Network]domain.NetworkDetails {
	return map[domain.Network]domain.NetworkDetails{
		domain.NetworkPublic: {
			Network:           domain.NetworkPublic,
			HorizonURL:        publicURL,
			NetworkPassphrase: "Public Global Stellar Network ; September 2015",
		},
		domain.NetworkTestnet: {
			Network:           domain.NetworkTestnet,
			HorizonURL:        testnetURL,
			NetworkPassphrase: "Test SDF Network ; September 2015",
		},
	}
}

// Server holds all components of the sync daemon.
type Server struct {
	publicKey string
	network   domain.Network
	networks  map[domain.Network]domain.NetworkDetails

	balances *poll.BalanceController
	prices   *poll.PriceController
	icons    *icons.Resolver
	submit   *submit.Submitter
	pairing  *pairing.Store
	listener *pairing.Listener
	store    *cache.Cache

	logger  *log.Logger
	started time.Time
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	horizonPublic := flag.String("horizon-public", envOr("HORIZON_PUBLIC_URL", "https://horizon.stellar.org"), "Ledger API endpoint for the public network")
	horizonTestnet := flag.String("horizon-testnet", envOr("HORIZON_TESTNET_URL", "https://horizon-testnet.stellar.org"), "Ledger API endpoint for the test network")
	pricingEndpoint := flag.String("pricing-endpoint", os.Getenv("PRICING_ENDPOINT"), "Pricing backend base URL (price polling disabled when empty)")
	relayEndpoint := flag.String("relay-endpoint", os.Getenv("RELAY_ENDPOINT"), "Pairing relay websocket URL (pairing disabled when empty)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string for the persistent cache")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for price history")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	publicKey := flag.String("public-key", os.Getenv("WALLET_PUBLIC_KEY"), "Account public key to sync")
	network := flag.String("network", envOr("WALLET_NETWORK", string(domain.NetworkTestnet)), "Network to sync (PUBLIC or TESTNET)")
	balanceInterval := flag.Duration("balance-interval", poll.DefaultBalanceInterval, "Balance polling interval")
	priceInterval := flag.Duration("price-interval", poll.DefaultPriceInterval, "Price polling interval")
	httpAddr := flag.String("http-addr", ":9090", "HTTP address for health/metrics/API")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[walletd] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if *publicKey == "" {
		logger.Fatal("--public-key is required")
	}
	net := domain.Network(strings.ToUpper(*network))
	if net != domain.NetworkPublic && net != domain.NetworkTestnet {
		logger.Fatalf("--network must be PUBLIC or TESTNET, got %q", *network)
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Create stores
	kv, history, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	networks := defaultNetworks(*horizonPublic, *horizonTestnet)

	// Icon resolution chain: token lists first, issuer metadata second.
	ttlCache := cache.New(kv, cache.WithLogger(logger))
	aggregator := tokenlist.NewAggregator(tokenlist.DefaultServices(), ttlCache,
		tokenlist.WithLogger(log.New(os.Stdout, "[tokenlist] ", log.LstdFlags)))
	issuerResolver := issuermeta.NewResolver(
		issuermeta.WithLogger(log.New(os.Stdout, "[issuermeta] ", log.LstdFlags)))
	iconResolver := icons.NewResolver(aggregator, issuerResolver)

	// Poll controllers
	balances := poll.NewBalanceController(networks,
		poll.WithBalanceInterval(*balanceInterval),
		poll.WithBalanceLogger(log.New(os.Stdout, "[balance] ", log.LstdFlags)))

	var prices *poll.PriceController
	if *pricingEndpoint != "" {
		priceOpts := []poll.PriceOption{
			poll.WithPriceInterval(*priceInterval),
			poll.WithPriceLogger(log.New(os.Stdout, "[price] ", log.LstdFlags)),
		}
		if history != nil {
			priceOpts = append(priceOpts, poll.WithPriceHistory(history))
		}
		prices = poll.NewPriceController(pricing.NewClient(*pricingEndpoint), balances, priceOpts...)
	} else {
		logger.Println("No pricing endpoint configured, price polling disabled")
	}

	// Transaction submitter for the selected network
	submitter, err := submit.NewSubmitter(
		horizon.NewClient(networks[net].HorizonURL),
		submit.DefaultPolicy(),
		submit.WithLogger(log.New(os.Stdout, "[submit] ", log.LstdFlags)))
	if err != nil {
		logger.Fatalf("Failed to create submitter: %v", err)
	}

	// Pairing store and relay listener
	pairingStore := pairing.NewStore(newSessionTracker(),
		pairing.WithStoreLogger(log.New(os.Stdout, "[pairing] ", log.LstdFlags)))
	var listener *pairing.Listener
	if *relayEndpoint != "" {
		listener = pairing.NewListener(*relayEndpoint, pairingStore,
			pairing.WithListenerLogger(log.New(os.Stdout, "[relay] ", log.LstdFlags)))
	} else {
		logger.Println("No relay endpoint configured, pairing disabled")
	}

	server := &Server{
		publicKey: *publicKey,
		network:   net,
		networks:  networks,
		balances:  balances,
		prices:    prices,
		icons:     iconResolver,
		submit:    submitter,
		pairing:   pairingStore,
		listener:  listener,
		store:     ttlCache,
		logger:    logger,
		started:   time.Now(),
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	// Start HTTP server
	go server.startHTTPServer(*httpAddr)

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates the persistent cache store and, when available, the
// price history store.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (storage.KVStore, storage.PriceHistoryStore, func(), error) {
	if useMemory {
		return memory.NewKVStore(), nil, func() {}, nil
	}

	// PostgreSQL: persistent cache
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	kv := pgstore.NewKVStore(pool)
	if err := kv.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("ensure cache schema: %w", err)
	}

	// ClickHouse: price history (optional)
	if clickhouseDSN == "" {
		return kv, nil, func() { pool.Close() }, nil
	}
	chConn, err := chstore.NewConn(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	history := chstore.NewPriceHistoryStore(chConn)
	if err := history.EnsureSchema(ctx); err != nil {
		chConn.Close()
		pool.Close()
		return nil, nil, nil, fmt.Errorf("ensure price history schema: %w", err)
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return kv, history, cleanup, nil
}

// Run starts polling and the relay listener, then blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Printf("Starting sync for %s on %s...", s.publicKey, s.network)

	s.balances.StartPolling(ctx, s.publicKey, s.network)
	defer s.balances.StopAll()

	if s.prices != nil {
		s.prices.StartPolling(ctx, s.publicKey, s.network)
		defer s.prices.StopAll()
	}

	errCh := make(chan error, 1)
	if s.listener != nil {
		go func() {
			err := s.listener.Run(ctx)
			if err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("relay listener: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// startHTTPServer starts the HTTP server for health/metrics/API.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/balances", s.handleBalances)
	mux.HandleFunc("/prices", s.handlePrices)
	mux.HandleFunc("/icon", s.handleIcon)
	mux.HandleFunc("/transactions", s.handleSubmit)
	mux.HandleFunc("/pairing/event", s.handlePairingEvent)
	mux.HandleFunc("/pairing/clear", s.handlePairingClear)
	mux.HandleFunc("/cache/clear", s.handleCacheClear)

	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	PublicKey     string `json:"public_key"`
	Network       string `json:"network"`
	BalanceError  string `json:"balance_error,omitempty"`
	PriceError    string `json:"price_error,omitempty"`
	PricesEnabled bool   `json:"prices_enabled"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:        "running",
		Uptime:        time.Since(s.started).String(),
		PublicKey:     s.publicKey,
		Network:       string(s.network),
		PricesEnabled: s.prices != nil,
	}
	if err := s.balances.LastError(); err != nil {
		resp.BalanceError = err.Error()
	}
	if s.prices != nil {
		if err := s.prices.LastError(); err != nil {
			resp.PriceError = err.Error()
		}
	}
	writeJSON(w, resp)
}

// BalanceEntry is one line of the /balances response.
type BalanceEntry struct {
	ID                 string `json:"id"`
	Total              string `json:"total"`
	Code               string `json:"code,omitempty"`
	Issuer             string `json:"issuer,omitempty"`
	CurrentPrice       string `json:"current_price,omitempty"`
	PriceChangePercent string `json:"price_change_percent,omitempty"`
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	var entries []BalanceEntry
	if s.prices != nil {
		for _, pb := range s.prices.PricedBalances() {
			entry := BalanceEntry{
				ID:     pb.ID,
				Total:  pb.Total.String(),
				Code:   pb.Asset.Code,
				Issuer: pb.Asset.Issuer,
			}
			if !pb.CurrentPrice.IsZero() {
				entry.CurrentPrice = pb.CurrentPrice.String()
			}
			if pb.PriceChangePercent != nil {
				entry.PriceChangePercent = pb.PriceChangePercent.String()
			}
			entries = append(entries, entry)
		}
	} else {
		for _, b := range s.balances.Balances() {
			entries = append(entries, BalanceEntry{
				ID:     b.ID,
				Total:  b.Total.String(),
				Code:   b.Asset.Code,
				Issuer: b.Asset.Issuer,
			})
		}
	}
	if entries == nil {
		entries = []BalanceEntry{}
	}
	writeJSON(w, map[string]interface{}{
		"balances": entries,
		"stale":    s.balances.LastError() != nil,
	})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		http.Error(w, "price polling disabled", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]interface{}{
		"prices": s.prices.Prices(),
		"stale":  s.prices.LastError() != nil,
	})
}

func (s *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	asset := domain.Asset{
		Code:       r.URL.Query().Get("code"),
		Issuer:     r.URL.Query().Get("issuer"),
		ContractID: r.URL.Query().Get("contract"),
	}
	icon := s.icons.IconURL(r.Context(), asset, s.networks[s.network])
	writeJSON(w, map[string]string{"icon": icon})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	envelope := r.PostFormValue("tx")
	if envelope == "" {
		http.Error(w, "tx is required", http.StatusBadRequest)
		return
	}

	resp, err := s.submit.Submit(r.Context(), envelope)
	if err != nil {
		var herr *horizon.Error
		if errors.As(err, &herr) {
			http.Error(w, herr.Body, herr.Status)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, resp)
}

// PairingEventResponse is the JSON view of the pairing event slot.
type PairingEventResponse struct {
	Kind    string           `json:"kind"`
	Topic   string           `json:"topic,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
	Peer    pairing.PeerMeta `json:"peer"`
}

func (s *Server) handlePairingEvent(w http.ResponseWriter, r *http.Request) {
	event := s.pairing.Event()
	writeJSON(w, PairingEventResponse{
		Kind:    event.Kind.String(),
		Topic:   event.Topic,
		Payload: event.Payload,
		Peer:    s.pairing.PeerFor(event),
	})
}

func (s *Server) handlePairingClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.pairing.ClearEvent()
	w.WriteHeader(http.StatusNoContent)
}

// handleCacheClear drops every persisted cache entry (logout path).
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.store.Clear(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// sessionTracker is the daemon's pairing connector. The protocol handshake
// itself lives in the external peer; the daemon only keeps the session
// bookkeeping the store needs.
type sessionTracker struct {
	mu       sync.Mutex
	sessions map[string]pairing.Session
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{sessions: make(map[string]pairing.Session)}
}

func (t *sessionTracker) Disconnect(_ context.Context, topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, topic)
	return nil
}

func (t *sessionTracker) ActiveSessions(context.Context) (map[string]pairing.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]pairing.Session, len(t.sessions))
	for topic, session := range t.sessions {
		out[topic] = session
	}
	return out, nil
}

// envOr returns the environment value for key, or fallback when unset.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
