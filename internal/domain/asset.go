package domain

// Asset identifies a token by whichever identifiers the caller has.
// Classic assets carry Code+Issuer; contract tokens carry ContractID.
// Any field may be empty.
type Asset struct {
	Code       string
	Issuer     string
	ContractID string
}

// VerifiedToken is one entry from a verified-token-list service.
// Immutable once fetched for a given aggregation pass.
type VerifiedToken struct {
	ContractID string  `json:"contract,omitempty"`
	Issuer     string  `json:"issuer,omitempty"`
	Code       string  `json:"code"`
	Icon       string  `json:"icon,omitempty"`
	Domain     string  `json:"domain,omitempty"`
	Network    Network `json:"network,omitempty"`
}
