// Package icons resolves token display icons through an ordered fallback
// chain: the verified token lists first, then issuer metadata.
package icons

import (
	"context"
	"strings"

	"stellar-wallet-sync/internal/domain"
)

// TokenLister supplies the merged verified-token list for a network.
// Implemented by *tokenlist.Aggregator.
type TokenLister interface {
	FetchVerifiedTokens(ctx context.Context, network domain.Network) []domain.VerifiedToken
}

// IssuerResolver resolves an icon from issuer metadata.
// Implemented by *issuermeta.Resolver.
type IssuerResolver interface {
	Resolve(ctx context.Context, issuerKey, assetCode string, details domain.NetworkDetails) string
}

// Resolver chains the token-list lookup and the issuer-metadata path.
type Resolver struct {
	tokens TokenLister
	issuer IssuerResolver
}

// NewResolver creates a Resolver over the two icon sources.
func NewResolver(tokens TokenLister, issuer IssuerResolver) *Resolver {
	return &Resolver{tokens: tokens, issuer: issuer}
}

// IconURL returns the display icon URL for asset, or "" when no source can
// provide one. The token-list path wins: when it yields a match the
// issuer-metadata path (which costs several sequential network hops) is never
// consulted.
func (r *Resolver) IconURL(ctx context.Context, asset domain.Asset, details domain.NetworkDetails) string {
	if icon := r.fromTokenList(ctx, asset, details.Network); icon != "" {
		return icon
	}
	if asset.Issuer == "" || asset.Code == "" {
		return ""
	}
	return r.issuer.Resolve(ctx, asset.Issuer, asset.Code, details)
}

// fromTokenList scans the merged verified-token list for an entry carrying an
// icon whose contract id or issuer matches the asset. Matching is
// case-insensitive: list services are inconsistent about casing.
func (r *Resolver) fromTokenList(ctx context.Context, asset domain.Asset, network domain.Network) string {
	for _, token := range r.tokens.FetchVerifiedTokens(ctx, network) {
		if token.Icon == "" {
			continue
		}
		if asset.ContractID != "" && strings.EqualFold(token.ContractID, asset.ContractID) {
			return token.Icon
		}
		if asset.Issuer != "" && strings.EqualFold(token.Issuer, asset.Issuer) {
			return token.Icon
		}
	}
	return ""
}
