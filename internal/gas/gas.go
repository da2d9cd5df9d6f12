// Package gas prices prospective rebalance transactions in USD so the
// decision engine can weigh moves against their execution cost.
package gas

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zeusfi/yield-agent/internal/cache"
	"github.com/zeusfi/yield-agent/internal/chain"
	"github.com/zeusfi/yield-agent/internal/httpx"
	"github.com/zeusfi/yield-agent/internal/registry"
)

const (
	// Flat gas unit estimates. Same-chain rebalances are a single vault
	// strategy call; cross-chain adds bridge overhead.
	SameChainGasUnits  = 300_000
	CrossChainGasUnits = 600_000

	// Used when the price feed is unreachable. All supported chains pay
	// gas in ETH.
	fallbackNativePriceUSD = 2500.0

	// Returned when the on-chain gas price is unavailable.
	conservativeEstimateUSD = 1.0

	nativePriceCacheKey = "defillama:price:ethereum"
	nativePriceCacheTTL = 5 * time.Minute
)

// PriceFeed resolves the USD price of the gas token.
type PriceFeed interface {
	NativePriceUSD(ctx context.Context) float64
}

// Estimator converts gas units into USD using live chain gas prices.
type Estimator struct {
	chains *chain.Registry
	prices PriceFeed
	log    *zap.Logger
}

func NewEstimator(chains *chain.Registry, prices PriceFeed, log *zap.Logger) *Estimator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Estimator{chains: chains, prices: prices, log: log}
}

// EstimateMoveUSD prices a rebalance that leaves fromChain and lands on
// toChain. Unsupported chains price at zero.
func (e *Estimator) EstimateMoveUSD(ctx context.Context, fromChain, toChain int64) float64 {
	if !registry.IsSupportedChain(fromChain) || !registry.IsSupportedChain(toChain) {
		return 0
	}
	units := int64(SameChainGasUnits)
	if fromChain != toChain {
		units = CrossChainGasUnits
	}
	return e.estimateUSD(ctx, fromChain, units)
}

func (e *Estimator) estimateUSD(ctx context.Context, chainID, units int64) float64 {
	client, err := e.chains.Client(ctx, chainID)
	if err != nil {
		e.log.Warn("gas estimate falling back to conservative default",
			zap.Int64("chain_id", chainID), zap.Error(err))
		return conservativeEstimateUSD
	}
	gasPrice, err := client.GasPrice(ctx)
	if err != nil || gasPrice == nil || gasPrice.Sign() <= 0 {
		e.log.Warn("gas price unavailable, using conservative default",
			zap.Int64("chain_id", chainID), zap.Error(err))
		return conservativeEstimateUSD
	}

	priceUSD := fallbackNativePriceUSD
	if e.prices != nil {
		priceUSD = e.prices.NativePriceUSD(ctx)
	}

	// cost = gasPrice(wei) * units * price / 1e18
	wei := new(big.Float).SetInt(new(big.Int).Mul(gasPrice, big.NewInt(units)))
	eth := new(big.Float).Quo(wei, big.NewFloat(1e18))
	usd, _ := new(big.Float).Mul(eth, big.NewFloat(priceUSD)).Float64()
	return usd
}

// LlamaPriceFeed pulls the ETH/USD price from the DeFiLlama coins API with a
// short-lived cache. Failures degrade to a static price rather than an error.
type LlamaPriceFeed struct {
	http    *httpx.Client
	baseURL string
	cache   *cache.Store
	log     *zap.Logger
}

func NewLlamaPriceFeed(httpClient *httpx.Client, c *cache.Store, log *zap.Logger) *LlamaPriceFeed {
	if log == nil {
		log = zap.NewNop()
	}
	return &LlamaPriceFeed{http: httpClient, baseURL: registry.DefiLlamaCoinsBaseURL, cache: c, log: log}
}

type coinsResponse struct {
	Coins map[string]struct {
		Price float64 `json:"price"`
	} `json:"coins"`
}

func (f *LlamaPriceFeed) NativePriceUSD(ctx context.Context) float64 {
	if f.cache != nil {
		if res, err := f.cache.Get(nativePriceCacheKey); err == nil && res.Hit && !res.Stale {
			var cached float64
			if json.Unmarshal(res.Value, &cached) == nil && cached > 0 {
				return cached
			}
		}
	}

	const coinKey = "coingecko:ethereum"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/prices/current/"+coinKey, nil)
	if err != nil {
		return fallbackNativePriceUSD
	}
	var resp coinsResponse
	if _, err := f.http.DoJSON(ctx, req, &resp); err != nil {
		f.log.Warn("native price fetch failed, using static fallback", zap.Error(err))
		return fallbackNativePriceUSD
	}
	entry, ok := resp.Coins[coinKey]
	if !ok || entry.Price <= 0 {
		return fallbackNativePriceUSD
	}

	if f.cache != nil {
		if buf, err := json.Marshal(entry.Price); err == nil {
			_ = f.cache.Set(nativePriceCacheKey, buf, nativePriceCacheTTL)
		}
	}
	return entry.Price
}
