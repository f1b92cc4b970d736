package domain

// Network identifies which ledger network data belongs to.
type Network string

const (
	// NetworkPublic is the public production network.
	NetworkPublic Network = "PUBLIC"

	// NetworkTestnet is the test network.
	NetworkTestnet Network = "TESTNET"
)

// NetworkDetails carries per-network endpoints and identity.
type NetworkDetails struct {
	Network Network

	// HorizonURL is the base URL of the ledger query API.
	HorizonURL string

	// NetworkPassphrase identifies the network for transaction signing.
	NetworkPassphrase string
}
