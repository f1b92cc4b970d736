// Package issuermeta resolves token icons through on-chain issuer metadata:
// the issuer's account record declares a home domain, and the well-known
// metadata document hosted there describes the issuer's currencies.
//
// This path costs multiple sequential network hops and is therefore always
// attempted after the token-list path.
package issuermeta

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"stellar-wallet-sync/internal/domain"
	"stellar-wallet-sync/internal/horizon"
	"stellar-wallet-sync/internal/strkey"
)

// maxDocumentSize caps the well-known document read (SEP-1 limit).
const maxDocumentSize = 100 * 1024

// wellKnownPath is where the metadata document is hosted on the home domain.
const wellKnownPath = "/.well-known/stellar.toml"

// AccountLoader loads ledger account records. Implemented by *horizon.Client.
type AccountLoader interface {
	AccountDetail(ctx context.Context, accountID string) (*horizon.Account, error)
}

// document is the subset of the well-known metadata document we consume.
type document struct {
	Currencies []currency `toml:"CURRENCIES"`
}

// currency is one currency-description entry.
type currency struct {
	Code   string `toml:"code"`
	Issuer string `toml:"issuer"`
	Image  string `toml:"image"`
}

// Resolver resolves a token icon via issuer metadata. Every failure mode
// resolves to "": callers render a fallback for empty results, and nothing
// on this path is worth interrupting the user for.
type Resolver struct {
	newLoader func(horizonURL string) AccountLoader
	client    *http.Client
	scheme    string
	logger    *log.Logger
}

// ResolverOption configures Resolver.
type ResolverOption func(*Resolver)

// WithAccountLoader overrides how account loaders are built per network.
func WithAccountLoader(newLoader func(horizonURL string) AccountLoader) ResolverOption {
	return func(r *Resolver) {
		r.newLoader = newLoader
	}
}

// WithHTTPClient sets a custom http.Client for document fetches.
func WithHTTPClient(client *http.Client) ResolverOption {
	return func(r *Resolver) {
		r.client = client
	}
}

// WithAllowHTTP permits plain-HTTP document fetches (tests only).
func WithAllowHTTP() ResolverOption {
	return func(r *Resolver) {
		r.scheme = "http"
	}
}

// WithLogger sets the logger for recovered failures.
func WithLogger(logger *log.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		newLoader: func(horizonURL string) AccountLoader {
			return horizon.NewClient(horizonURL)
		},
		client: &http.Client{Timeout: 15 * time.Second},
		scheme: "https",
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the icon URL declared for (issuerKey, assetCode) in the
// issuer's well-known metadata document, or "" when any step fails.
func (r *Resolver) Resolve(ctx context.Context, issuerKey, assetCode string, details domain.NetworkDetails) string {
	if !strkey.IsValidAccountKey(issuerKey) {
		return ""
	}

	account, err := r.newLoader(details.HorizonURL).AccountDetail(ctx, issuerKey)
	if err != nil {
		r.logger.Printf("issuermeta: load account %s: %v", issuerKey, err)
		return ""
	}
	if account.HomeDomain == "" {
		return ""
	}

	doc, err := r.fetchDocument(ctx, account.HomeDomain)
	if err != nil {
		r.logger.Printf("issuermeta: fetch metadata for %s: %v", account.HomeDomain, err)
		return ""
	}

	for _, c := range doc.Currencies {
		if c.Code == assetCode && c.Issuer == issuerKey && c.Image != "" {
			return c.Image
		}
	}
	return ""
}

// fetchDocument fetches and parses the well-known metadata document hosted
// at homeDomain.
func (r *Resolver) fetchDocument(ctx context.Context, homeDomain string) (*document, error) {
	domainPart := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(homeDomain, "https://"), "http://"), "/")
	url := fmt.Sprintf("%s://%s%s", r.scheme, domainPart, wellKnownPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	var doc document
	if err := toml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return &doc, nil
}
