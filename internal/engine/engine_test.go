package engine

import (
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/zeusfi/yield-agent/internal/model"
)

func pool(id string, chainID int64, protocol string, apy float64, risk int) model.YieldPool {
	return model.YieldPool{
		PoolID:       id,
		ChainID:      chainID,
		Protocol:     protocol,
		Symbol:       "USDC",
		APY:          apy,
		RiskScore:    risk,
		TVLUSD:       1_000_000,
		DepositToken: "0x4e65fe4dba92790696d040ac24aa414708f5c0ab",
	}
}

func deployed(chainID int64, protocol string, usd float64) model.PositionInfo {
	return model.PositionInfo{
		ChainID:      chainID,
		Protocol:     protocol,
		Token:        "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
		AmountUSD:    decimal.NewFromFloat(usd),
		DepositToken: "0x4e65fe4dba92790696d040ac24aa414708f5c0ab",
	}
}

func idle(chainID int64, usd float64) model.PositionInfo {
	p := deployed(chainID, model.ProtocolWallet, usd)
	p.DepositToken = ""
	return p
}

func optedIn() model.Preferences {
	return model.Preferences{AutoRebalance: true}
}

func TestSelectBestPicksHighestAPY(t *testing.T) {
	candidates := []model.YieldPool{
		pool("a", 8453, "aave-v3", 4.0, 2),
		pool("b", 42161, "euler-v2", 7.5, 5),
		pool("c", 10, "aave-v3", 6.0, 2),
	}
	best, ok := SelectBest(candidates, model.Preferences{})
	if !ok {
		t.Fatal("expected a best pool")
	}
	if best.PoolID != "b" {
		t.Fatalf("expected pool b, got %s", best.PoolID)
	}
}

func TestSelectBestIsIdempotent(t *testing.T) {
	candidates := []model.YieldPool{
		pool("b", 42161, "euler-v2", 7.5, 5),
		pool("a", 8453, "aave-v3", 4.0, 2),
	}
	first, _ := SelectBest(candidates, model.Preferences{})
	second, _ := SelectBest(candidates, model.Preferences{})
	if first.PoolID != second.PoolID {
		t.Fatalf("same snapshot picked %s then %s", first.PoolID, second.PoolID)
	}
}

func TestSelectBestTieBreaksOnRiskThenPoolID(t *testing.T) {
	candidates := []model.YieldPool{
		pool("z", 8453, "euler-v2", 5.0, 5),
		pool("m", 8453, "aave-v3", 5.0, 2),
		pool("a", 10, "aave-v3", 5.0, 2),
	}
	best, ok := SelectBest(candidates, model.Preferences{})
	if !ok {
		t.Fatal("expected a best pool")
	}
	if best.PoolID != "a" {
		t.Fatalf("expected lexicographic tie-break to pool a, got %s", best.PoolID)
	}
}

func TestSelectBestHonorsPreferences(t *testing.T) {
	candidates := []model.YieldPool{
		pool("risky", 8453, "euler-v2", 9.0, 5),
		pool("safe", 8453, "aave-v3", 4.0, 2),
	}
	prefs := model.Preferences{MaxRiskTier: "low"}
	best, ok := SelectBest(candidates, prefs)
	if !ok {
		t.Fatal("expected a best pool")
	}
	if best.PoolID != "safe" {
		t.Fatalf("risk ceiling ignored, got %s", best.PoolID)
	}

	minAPY := 10.0
	if _, ok := SelectBest(candidates, model.Preferences{MinAPY: &minAPY}); ok {
		t.Fatal("expected no pool above the APY floor")
	}
}

func TestDecideHoldsWithoutPositions(t *testing.T) {
	d := Decide(nil, pool("a", 8453, "aave-v3", 5.0, 2), nil, optedIn(), 0.01)
	if d.Move {
		t.Fatal("no positions must mean no move")
	}
}

func TestDecideDeploysIdleRegardlessOfOptIn(t *testing.T) {
	best := pool("a", 8453, "aave-v3", 5.0, 2)
	positions := []model.PositionInfo{idle(8453, 5_000)}

	d := Decide(positions, best, nil, model.Preferences{AutoRebalance: false}, 0.05)
	if !d.Move || !d.DeployIdle {
		t.Fatalf("idle capital must deploy even without the opt-in: %+v", d)
	}
}

func TestDecideIgnoresDustIdleBalance(t *testing.T) {
	best := pool("a", 8453, "aave-v3", 5.0, 2)
	positions := []model.PositionInfo{idle(8453, 0.05)}

	d := Decide(positions, best, nil, optedIn(), 0.01)
	if d.Move {
		t.Fatalf("dust balance moved: %s", d.Reason)
	}
}

func TestDecideHoldsWhenNotOptedIn(t *testing.T) {
	best := pool("b", 42161, "euler-v2", 9.0, 5)
	candidates := []model.YieldPool{pool("a", 8453, "aave-v3", 2.0, 2), best}
	positions := []model.PositionInfo{deployed(8453, "aave-v3", 10_000)}

	d := Decide(positions, best, candidates, model.Preferences{AutoRebalance: false}, 0.01)
	if d.Move {
		t.Fatal("deployed funds moved without the opt-in")
	}
	if !strings.Contains(d.Reason, "auto-rebalance") {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
}

func TestDecideHoldsWhenAlreadyInBestPool(t *testing.T) {
	// Already being in the best pool wins even when the weighted APY looks
	// far from the best pool's because of a second lagging position.
	best := pool("a", 8453, "aave-v3", 8.0, 2)
	candidates := []model.YieldPool{best, pool("b", 42161, "euler-v2", 1.0, 5)}
	positions := []model.PositionInfo{
		deployed(8453, "aave-v3", 100),
		deployed(42161, "euler-v2", 900),
	}

	d := Decide(positions, best, candidates, optedIn(), 0.01)
	if d.Move {
		t.Fatalf("position already in the best pool moved: %s", d.Reason)
	}
}

func TestDecideRequiresImprovementThreshold(t *testing.T) {
	best := pool("b", 42161, "euler-v2", 4.5, 5)
	candidates := []model.YieldPool{pool("a", 8453, "aave-v3", 4.0, 2), best}
	positions := []model.PositionInfo{deployed(8453, "aave-v3", 10_000)}

	d := Decide(positions, best, candidates, optedIn(), 0.01)
	if d.Move {
		t.Fatalf("sub-threshold improvement moved: %s", d.Reason)
	}
	if math.Abs(d.ImprovementPct-0.5) > 1e-9 {
		t.Fatalf("improvement %f, want 0.5", d.ImprovementPct)
	}
}

func TestDecideRequiresGainAboveGas(t *testing.T) {
	best := pool("b", 42161, "euler-v2", 6.0, 5)
	candidates := []model.YieldPool{pool("a", 8453, "aave-v3", 4.0, 2), best}
	positions := []model.PositionInfo{deployed(8453, "aave-v3", 1_000)}

	// 2 points on $1,000 over 30 days is ~$1.64.
	d := Decide(positions, best, candidates, optedIn(), 10.0)
	if d.Move {
		t.Fatalf("uneconomical move accepted: %s", d.Reason)
	}
	want := 2.0 / 100 * 1_000 * 30 / 365
	if math.Abs(d.ProjectedGainUSD-want) > 1e-9 {
		t.Fatalf("projected gain %f, want %f", d.ProjectedGainUSD, want)
	}

	d = Decide(positions, best, candidates, optedIn(), 1.0)
	if !d.Move {
		t.Fatalf("economical move rejected: %s", d.Reason)
	}
	if d.DeployIdle {
		t.Fatal("rebalance flagged as an idle deployment")
	}
}

func TestDecideSkipsGasCheckWhenEstimateUnavailable(t *testing.T) {
	best := pool("b", 42161, "euler-v2", 6.0, 5)
	candidates := []model.YieldPool{pool("a", 8453, "aave-v3", 4.0, 2), best}
	positions := []model.PositionInfo{deployed(8453, "aave-v3", 10)}

	d := Decide(positions, best, candidates, optedIn(), 0)
	if !d.Move {
		t.Fatalf("zero gas estimate must not block the move: %s", d.Reason)
	}
}

func TestWeightedCurrentAPY(t *testing.T) {
	candidates := []model.YieldPool{
		pool("a", 8453, "aave-v3", 4.0, 2),
		pool("b", 42161, "euler-v2", 8.0, 5),
	}
	positions := []model.PositionInfo{
		deployed(8453, "aave-v3", 750),
		deployed(42161, "euler-v2", 250),
	}
	got := WeightedCurrentAPY(positions, candidates)
	if math.Abs(got-5.0) > 1e-9 {
		t.Fatalf("weighted APY %f, want 5.0", got)
	}
}

func TestWeightedCurrentAPYTreatsMissingPoolAsZero(t *testing.T) {
	candidates := []model.YieldPool{pool("a", 8453, "aave-v3", 4.0, 2)}
	positions := []model.PositionInfo{
		deployed(8453, "aave-v3", 500),
		deployed(10, "morpho-v1", 500),
	}
	got := WeightedCurrentAPY(positions, candidates)
	if math.Abs(got-2.0) > 1e-9 {
		t.Fatalf("weighted APY %f, want 2.0", got)
	}
}

func TestPartitionSplitsIdleFromDeployed(t *testing.T) {
	idlePos, deployedPos := Partition([]model.PositionInfo{
		idle(8453, 100),
		deployed(8453, "aave-v3", 200),
		idle(42161, 300),
	})
	if len(idlePos) != 2 || len(deployedPos) != 1 {
		t.Fatalf("partition got %d idle, %d deployed", len(idlePos), len(deployedPos))
	}
	if math.Abs(TotalUSD(idlePos)-400) > 1e-9 {
		t.Fatalf("idle total %f, want 400", TotalUSD(idlePos))
	}
}
