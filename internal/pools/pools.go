// Package pools discovers candidate USDC yield pools across the supported
// chains and protocols.
package pools

import (
	"context"

	"github.com/zeusfi/yield-agent/internal/model"
)

// Source yields the current set of candidate pools. Implementations may serve
// cached data; callers treat the result as a point-in-time snapshot.
type Source interface {
	Pools(ctx context.Context) ([]model.YieldPool, error)
}

// Filter drops pools the given preferences exclude. The input is not
// modified. Pools that fail validation are dropped silently; a malformed
// entry from an upstream aggregator is not an agent error.
func Filter(in []model.YieldPool, prefs model.Preferences) []model.YieldPool {
	out := make([]model.YieldPool, 0, len(in))
	ceiling := prefs.RiskCeiling()
	for _, p := range in {
		if p.Validate() != nil || !p.Usable() {
			continue
		}
		if p.RiskScore > ceiling {
			continue
		}
		if prefs.MinAPY != nil && p.APY < *prefs.MinAPY {
			continue
		}
		if len(prefs.AllowedChains) > 0 && !containsInt64(prefs.AllowedChains, p.ChainID) {
			continue
		}
		if len(prefs.AllowedProtocols) > 0 && !containsString(prefs.AllowedProtocols, p.Protocol) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func containsInt64(xs []int64, v int64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
