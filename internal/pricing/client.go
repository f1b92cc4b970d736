// Package pricing implements the HTTP client for the fiat-pricing backend.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTimeout bounds a single pricing request.
const DefaultTimeout = 15 * time.Second

// TokenPrice is the backend's quote for one token.
type TokenPrice struct {
	CurrentPrice       decimal.Decimal  `json:"current_price"`
	PriceChangePercent *decimal.Decimal `json:"price_change_percent,omitempty"`
}

// Client talks to the pricing backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a pricing Client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type priceRequest struct {
	Tokens []string `json:"tokens"`
}

type priceResponse struct {
	Prices map[string]TokenPrice `json:"prices"`
}

// FetchPrices returns quotes keyed by token id. Tokens the backend does not
// know are simply absent from the result.
func (c *Client) FetchPrices(ctx context.Context, tokenIDs []string) (map[string]TokenPrice, error) {
	if len(tokenIDs) == 0 {
		return map[string]TokenPrice{}, nil
	}

	body, err := json.Marshal(priceRequest{Tokens: tokenIDs})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/prices"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, payload)
	}

	var decoded priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Prices == nil {
		return map[string]TokenPrice{}, nil
	}
	return decoded.Prices, nil
}
