package domain

import "github.com/shopspring/decimal"

// NativeBalanceID is the balance-map key for the network's native asset.
const NativeBalanceID = "native"

// Balance is one token balance of an account.
// Balances are replaced wholesale on each successful poll; there is no
// partial merge.
type Balance struct {
	// ID is the token identifier: "native" or "CODE:ISSUER" or a contract ID.
	ID    string
	Total decimal.Decimal
	Asset Asset
}

// PricedBalance is a Balance joined with pricing data.
type PricedBalance struct {
	Balance
	CurrentPrice       decimal.Decimal
	PriceChangePercent *decimal.Decimal
}

// PricePoint is one recorded price observation for a token.
type PricePoint struct {
	TokenID            string
	TimestampMs        int64
	Price              decimal.Decimal
	PriceChangePercent *decimal.Decimal
}
