package registry

import "strings"

// Chain describes one supported EVM chain. Vault custody is limited to this
// closed set; anything else is a configuration error.
type Chain struct {
	ChainID     int64
	Name        string
	RPCURL      string
	ExplorerURL string
	USDCAddress string
}

var supportedChains = map[int64]Chain{
	8453: {
		ChainID:     8453,
		Name:        "base",
		RPCURL:      "https://mainnet.base.org",
		ExplorerURL: "https://basescan.org",
		USDCAddress: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
	},
	42161: {
		ChainID:     42161,
		Name:        "arbitrum",
		RPCURL:      "https://arb1.arbitrum.io/rpc",
		ExplorerURL: "https://arbiscan.io",
		USDCAddress: "0xaf88d065e77c8cc2239327c5edb3a432268e5831",
	},
	10: {
		ChainID:     10,
		Name:        "optimism",
		RPCURL:      "https://mainnet.optimism.io",
		ExplorerURL: "https://optimistic.etherscan.io",
		USDCAddress: "0x0b2c639c533813f4aa9d7837caf62653d097ff85",
	},
}

func ChainByID(chainID int64) (Chain, bool) {
	c, ok := supportedChains[chainID]
	return c, ok
}

// ChainIDByName resolves a case-insensitive chain name. Unknown names return
// false rather than an error so preference filters can ignore them.
func ChainIDByName(name string) (int64, bool) {
	clean := strings.ToLower(strings.TrimSpace(name))
	for id, c := range supportedChains {
		if c.Name == clean {
			return id, true
		}
	}
	return 0, false
}

func ChainName(chainID int64) string {
	if c, ok := supportedChains[chainID]; ok {
		return c.Name
	}
	return ""
}

func IsSupportedChain(chainID int64) bool {
	_, ok := supportedChains[chainID]
	return ok
}

// USDCAddress returns the lower-cased USDC token address for a chain.
func USDCAddress(chainID int64) (string, bool) {
	c, ok := supportedChains[chainID]
	if !ok {
		return "", false
	}
	return c.USDCAddress, true
}

// SupportedChainIDs returns the chain set in a stable order.
func SupportedChainIDs() []int64 {
	return []int64{10, 8453, 42161}
}
