// Package engine holds the rebalance decision logic. Everything here is a
// pure function of its inputs; IO (pool discovery, gas pricing, position
// reads) happens in the caller.
package engine

import (
	"fmt"
	"sort"

	"github.com/zeusfi/yield-agent/internal/model"
	"github.com/zeusfi/yield-agent/internal/pools"
)

const (
	// Idle balances at or below this many USD are not worth deploying.
	DustThresholdUSD = 0.10

	// Minimum APY improvement, in percentage points, before a move is
	// even considered.
	MoveThresholdPct = 1.0

	// Projected gains are computed over this horizon.
	projectionDays = 30
)

// Decision is the engine's verdict for one wallet's position set.
type Decision struct {
	Move   bool
	Reason string

	// DeployIdle is set when the move is an idle-capital deployment rather
	// than a rebalance of deployed funds.
	DeployIdle bool

	CurrentAPY       float64
	ImprovementPct   float64
	ProjectedGainUSD float64
	GasCostUSD       float64
}

// SelectBest filters the candidate pools by the wallet's preferences and
// returns the highest-APY survivor. Ties break toward the lower risk score,
// then the lexicographically smaller pool ID, so repeated cycles over the
// same snapshot pick the same pool.
func SelectBest(candidates []model.YieldPool, prefs model.Preferences) (model.YieldPool, bool) {
	eligible := pools.Filter(candidates, prefs)
	if len(eligible) == 0 {
		return model.YieldPool{}, false
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].APY != eligible[j].APY {
			return eligible[i].APY > eligible[j].APY
		}
		if eligible[i].RiskScore != eligible[j].RiskScore {
			return eligible[i].RiskScore < eligible[j].RiskScore
		}
		return eligible[i].PoolID < eligible[j].PoolID
	})
	return eligible[0], true
}

// Partition splits a snapshot into idle and deployed positions.
func Partition(positions []model.PositionInfo) (idle, deployed []model.PositionInfo) {
	for _, p := range positions {
		if p.Idle() {
			idle = append(idle, p)
		} else {
			deployed = append(deployed, p)
		}
	}
	return idle, deployed
}

// TotalUSD sums the USD value of a position set.
func TotalUSD(positions []model.PositionInfo) float64 {
	total := 0.0
	for _, p := range positions {
		usd, _ := p.AmountUSD.Float64()
		total += usd
	}
	return total
}

// WeightedCurrentAPY is the deployed-amount-weighted APY a wallet earns
// today. A position whose pool is missing from the snapshot contributes zero
// to the numerator but keeps its amount in the denominator.
func WeightedCurrentAPY(deployed []model.PositionInfo, candidates []model.YieldPool) float64 {
	totalUSD := 0.0
	weighted := 0.0
	for _, pos := range deployed {
		usd, _ := pos.AmountUSD.Float64()
		totalUSD += usd
		weighted += usd * poolAPY(pos, candidates)
	}
	if totalUSD == 0 {
		return 0
	}
	return weighted / totalUSD
}

func poolAPY(pos model.PositionInfo, candidates []model.YieldPool) float64 {
	for _, p := range candidates {
		if p.ChainID == pos.ChainID && p.Protocol == pos.Protocol {
			return p.APY
		}
	}
	return 0
}

// Decide weighs a wallet's whole position set against the best candidate
// pool. Idle capital above the dust threshold always deploys, with or
// without the auto-rebalance opt-in, because it was never earning. Moving
// already deployed funds requires the opt-in, a minimum APY improvement, and
// a projected 30 day gain that covers gas.
func Decide(positions []model.PositionInfo, best model.YieldPool, candidates []model.YieldPool, prefs model.Preferences, gasCostUSD float64) Decision {
	if len(positions) == 0 {
		return Decision{Reason: "no positions"}
	}

	idle, deployed := Partition(positions)
	if idleUSD := TotalUSD(idle); idleUSD > DustThresholdUSD {
		return Decision{
			Move:       true,
			DeployIdle: true,
			Reason: fmt.Sprintf("deploying $%.2f idle funds to %s on chain %d at %.2f%% APY",
				idleUSD, best.Protocol, best.ChainID, best.APY),
			ImprovementPct:   best.APY,
			ProjectedGainUSD: projectedGainUSD(best.APY, idleUSD),
			GasCostUSD:       gasCostUSD,
		}
	}

	if !prefs.AutoRebalance {
		return Decision{Reason: "auto-rebalance not enabled"}
	}
	if len(deployed) == 0 {
		return Decision{Reason: "nothing to move"}
	}

	currentAPY := WeightedCurrentAPY(deployed, candidates)
	for _, pos := range deployed {
		if pos.ChainID == best.ChainID && pos.Protocol == best.Protocol {
			return Decision{Reason: "already in the best pool", CurrentAPY: currentAPY}
		}
	}

	improvement := best.APY - currentAPY
	if improvement < MoveThresholdPct {
		return Decision{
			Reason:         fmt.Sprintf("APY improvement %.2f%% is below the %.2f%% move threshold", improvement, MoveThresholdPct),
			CurrentAPY:     currentAPY,
			ImprovementPct: improvement,
			GasCostUSD:     gasCostUSD,
		}
	}

	deployedUSD := TotalUSD(deployed)
	gain := projectedGainUSD(improvement, deployedUSD)
	if gasCostUSD > 0 && gain < gasCostUSD {
		return Decision{
			Reason:           fmt.Sprintf("projected 30d gain $%.4f does not cover gas $%.4f", gain, gasCostUSD),
			CurrentAPY:       currentAPY,
			ImprovementPct:   improvement,
			ProjectedGainUSD: gain,
			GasCostUSD:       gasCostUSD,
		}
	}

	return Decision{
		Move: true,
		Reason: fmt.Sprintf("moving from %.2f%% to %s on chain %d at %.2f%% APY, projected 30d gain $%.4f vs gas $%.4f",
			currentAPY, best.Protocol, best.ChainID, best.APY, gain, gasCostUSD),
		CurrentAPY:       currentAPY,
		ImprovementPct:   improvement,
		ProjectedGainUSD: gain,
		GasCostUSD:       gasCostUSD,
	}
}

func projectedGainUSD(improvementPct, amountUSD float64) float64 {
	return improvementPct / 100 * amountUSD * projectionDays / 365
}
