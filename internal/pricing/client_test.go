package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/prices", r.URL.Path)

		var req priceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"native", "USDC:GISSUER"}, req.Tokens)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"prices": {
			"native": {"current_price": "0.1234", "price_change_percent": "-2.5"},
			"USDC:GISSUER": {"current_price": "1.0"}
		}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	prices, err := client.FetchPrices(context.Background(), []string{"native", "USDC:GISSUER"})
	require.NoError(t, err)
	require.Len(t, prices, 2)

	native := prices["native"]
	assert.True(t, native.CurrentPrice.Equal(decimal.RequireFromString("0.1234")))
	require.NotNil(t, native.PriceChangePercent)
	assert.True(t, native.PriceChangePercent.Equal(decimal.RequireFromString("-2.5")))

	usdc := prices["USDC:GISSUER"]
	assert.True(t, usdc.CurrentPrice.Equal(decimal.RequireFromString("1.0")))
	assert.Nil(t, usdc.PriceChangePercent)
}

func TestFetchPrices_EmptyInputSkipsNetwork(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	prices, err := client.FetchPrices(context.Background(), nil)
	require.NoError(t, err)

	assert.Empty(t, prices)
	assert.Equal(t, int64(0), hits.Load())
}

func TestFetchPrices_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.FetchPrices(context.Background(), []string{"native"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
