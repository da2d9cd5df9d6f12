package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zeusfi/yield-agent/internal/registry"
)

// ProtocolWallet is the sentinel protocol for funds sitting idle in a vault,
// deployed nowhere.
const ProtocolWallet = "wallet"

// USDCDecimals is shared by every supported chain's USDC deployment.
const USDCDecimals = 6

// Preferences is a wallet's externally sourced preference set. The agent
// treats it as a read-only input refreshed out-of-band.
type Preferences struct {
	// AllowedChains holds canonical chain IDs; empty means all supported.
	AllowedChains []int64 `json:"allowed_chains"`
	// AllowedProtocols holds canonical protocol IDs; empty means all.
	AllowedProtocols []string `json:"allowed_protocols"`
	MinAPY           *float64 `json:"min_apy"`
	MaxRiskTier      string   `json:"max_risk_tier"`
	AutoRebalance    bool     `json:"auto_rebalance"`
}

// RiskCeiling maps the wallet's risk tier to an inclusive risk-score ceiling.
// An unset tier defaults to medium.
func (p Preferences) RiskCeiling() int {
	switch strings.ToLower(strings.TrimSpace(p.MaxRiskTier)) {
	case "low":
		return 3
	case "", "medium":
		return 6
	default:
		return 10
	}
}

// Wallet is the user identity the agent acts for.
type Wallet struct {
	Address     string      `yaml:"address" json:"address"`
	Preferences Preferences `yaml:"preferences" json:"preferences"`
}

func NewWallet(address string, prefs Preferences) Wallet {
	return Wallet{Address: strings.ToLower(strings.TrimSpace(address)), Preferences: prefs}
}

// Vault is one user-owned custody contract on one chain. A wallet has at most
// one active vault per chain; deactivated vaults are retained for history but
// excluded from execution.
type Vault struct {
	WalletAddress string `yaml:"wallet" json:"wallet"`
	ChainID       int64  `yaml:"chain_id" json:"chain_id"`
	Address       string `yaml:"address" json:"address"`
	Active        bool   `yaml:"active" json:"active"`
}

// YieldPool is a candidate deployment target. A pool without a resolved
// deposit-token address cannot be deposited into or unwound from and must be
// excluded from selection.
type YieldPool struct {
	PoolID       string  `json:"pool_id"`
	ChainID      int64   `json:"chain_id"`
	Protocol     string  `json:"protocol"`
	Symbol       string  `json:"symbol"`
	APY          float64 `json:"apy"`
	RiskScore    int     `json:"risk_score"`
	TVLUSD       float64 `json:"tvl_usd"`
	DepositToken string  `json:"deposit_token"`
}

// Usable reports whether the pool carries a resolved deposit-token address.
func (p YieldPool) Usable() bool {
	return strings.TrimSpace(p.DepositToken) != ""
}

// Validate rejects malformed upstream pool data at the boundary.
func (p YieldPool) Validate() error {
	if !registry.IsSupportedChain(p.ChainID) {
		return fmt.Errorf("pool %s: unsupported chain %d", p.PoolID, p.ChainID)
	}
	if strings.TrimSpace(p.Protocol) == "" {
		return fmt.Errorf("pool %s: missing protocol", p.PoolID)
	}
	if p.RiskScore < 1 || p.RiskScore > 10 {
		return fmt.Errorf("pool %s: risk score %d out of range", p.PoolID, p.RiskScore)
	}
	return nil
}

// PositionInfo is a snapshot of funds actually held, derived from on-chain
// reads. It is never persisted as source of truth; positions are re-derived
// from chain state before every decision.
type PositionInfo struct {
	ChainID  int64  `json:"chain_id"`
	Protocol string `json:"protocol"`
	Token    string `json:"token"`
	// Amount is in raw token units (USDC has 6 decimals).
	Amount       *big.Int        `json:"amount"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	DepositToken string          `json:"deposit_token,omitempty"`
}

// Idle reports whether the position is undeployed vault balance.
func (p PositionInfo) Idle() bool {
	return p.Protocol == ProtocolWallet
}
