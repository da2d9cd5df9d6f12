package registry

import "strings"

// ProtocolKind selects how a position is unwound. Swap-settled protocols hold
// a receipt token the router can quote directly; share-settled protocols hold
// ERC-4626 shares the router does not understand, so unwinding calls the
// vault's native redemption entry point.
type ProtocolKind int

const (
	KindSwapSettled ProtocolKind = iota
	KindShareSettled
)

// Protocol is a statically configured integration target. DepositTokens maps
// chain ID to the fallback deposit-token address used when pool metadata does
// not carry a fresher resolved address.
type Protocol struct {
	ID            string
	Kind          ProtocolKind
	RiskScore     int
	DepositTokens map[int64]string
}

var supportedProtocols = map[string]Protocol{
	"aave-v3": {
		ID:        "aave-v3",
		Kind:      KindSwapSettled,
		RiskScore: 2,
		// aUSDC receipt tokens; balances accrue interest in place.
		DepositTokens: map[int64]string{
			8453:  "0x4e65fe4dba92790696d040ac24aa414708f5c0ab",
			42161: "0x724dc807b04555b71ed48a6896b6f41593b8c637",
			10:    "0x625e7708f30ca75bfd92586e17077590c60eb4cd",
		},
	},
	"morpho-v1": {
		ID:        "morpho-v1",
		Kind:      KindShareSettled,
		RiskScore: 4,
		DepositTokens: map[int64]string{
			8453: "0xbeef010f9cb27031ad51e3333f9af9c6b1228183",
		},
	},
	"euler-v2": {
		ID:        "euler-v2",
		Kind:      KindShareSettled,
		RiskScore: 5,
		DepositTokens: map[int64]string{
			8453:  "0x0a1a3b5f2041f33522c4efc754a7d096f880ee16",
			42161: "0x0a1ecc5fe8c9be3c809844fcbe615b46a869b899",
		},
	},
}

// protocolAliases maps short preference names to canonical protocol IDs.
var protocolAliases = map[string]string{
	"aave":      "aave-v3",
	"aave-v3":   "aave-v3",
	"morpho":    "morpho-v1",
	"morpho-v1": "morpho-v1",
	"euler":     "euler-v2",
	"euler-v2":  "euler-v2",
}

func ProtocolByID(id string) (Protocol, bool) {
	p, ok := supportedProtocols[strings.ToLower(strings.TrimSpace(id))]
	return p, ok
}

// SupportedProtocolIDs returns the canonical IDs in stable order.
func SupportedProtocolIDs() []string {
	return []string{"aave-v3", "euler-v2", "morpho-v1"}
}

func IsSupportedProtocol(id string) bool {
	_, ok := supportedProtocols[strings.ToLower(strings.TrimSpace(id))]
	return ok
}

// NormalizeProtocols maps preference names through the alias table, dropping
// anything unknown. The result uses canonical protocol IDs.
func NormalizeProtocols(names []string) []string {
	out := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, name := range names {
		canonical, ok := protocolAliases[strings.ToLower(strings.TrimSpace(name))]
		if !ok || seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, canonical)
	}
	return out
}

// DepositToken returns the static fallback deposit-token address for a
// protocol on a chain, lower-cased. Pool metadata addresses take precedence
// over this table.
func DepositToken(protocolID string, chainID int64) (string, bool) {
	p, ok := ProtocolByID(protocolID)
	if !ok {
		return "", false
	}
	addr, ok := p.DepositTokens[chainID]
	return addr, ok
}

// ProtocolRiskScore returns the 1-10 risk score for a protocol, or 0 when the
// protocol is unknown.
func ProtocolRiskScore(protocolID string) int {
	p, ok := ProtocolByID(protocolID)
	if !ok {
		return 0
	}
	return p.RiskScore
}
