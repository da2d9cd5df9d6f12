package pools

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/zeusfi/yield-agent/internal/cache"
	agenterr "github.com/zeusfi/yield-agent/internal/errors"
	"github.com/zeusfi/yield-agent/internal/httpx"
	"github.com/zeusfi/yield-agent/internal/model"
	"github.com/zeusfi/yield-agent/internal/registry"
)

const (
	poolsCacheKey = "defillama:pools:usdc"
	poolsCacheTTL = 10 * time.Minute
)

// chain names as DeFiLlama spells them, mapped to chain IDs
var llamaChains = map[string]int64{
	"base":     8453,
	"arbitrum": 42161,
	"optimism": 10,
}

// llamaProjects maps DeFiLlama project slugs to the agent's protocol IDs.
var llamaProjects = map[string]string{
	"aave-v3":     "aave-v3",
	"morpho":      "morpho-v1",
	"morpho-blue": "morpho-v1",
	"euler-v2":    "euler-v2",
}

// DefiLlama fetches USDC pools from the DeFiLlama yields API. Results are
// cached so repeated agent cycles within the TTL do not hammer the API.
type DefiLlama struct {
	http    *httpx.Client
	baseURL string
	cache   *cache.Store
}

func NewDefiLlama(httpClient *httpx.Client, c *cache.Store) *DefiLlama {
	return &DefiLlama{http: httpClient, baseURL: registry.DefiLlamaYieldsBaseURL, cache: c}
}

type poolsEnvelope struct {
	Status string      `json:"status"`
	Data   []poolEntry `json:"data"`
}

type poolEntry struct {
	Pool    string   `json:"pool"`
	Chain   string   `json:"chain"`
	Project string   `json:"project"`
	Symbol  string   `json:"symbol"`
	APY     *float64 `json:"apy"`
	TVLUSD  *float64 `json:"tvlUsd"`
}

func (d *DefiLlama) Pools(ctx context.Context) ([]model.YieldPool, error) {
	if d.cache != nil {
		if res, err := d.cache.Get(poolsCacheKey); err == nil && res.Hit && !res.Stale {
			var cached []model.YieldPool
			if json.Unmarshal(res.Value, &cached) == nil {
				return cached, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/pools", nil)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeInternal, "build yields request", err)
	}
	var resp poolsEnvelope
	if _, err := d.http.DoJSON(ctx, req, &resp); err != nil {
		return nil, err
	}

	out := make([]model.YieldPool, 0, 16)
	for _, entry := range resp.Data {
		pool, ok := d.translate(entry)
		if !ok {
			continue
		}
		out = append(out, pool)
	}

	if d.cache != nil {
		if buf, err := json.Marshal(out); err == nil {
			_ = d.cache.Set(poolsCacheKey, buf, poolsCacheTTL)
		}
	}
	return out, nil
}

// translate keeps only single-sided USDC pools on supported chains run by
// supported protocols.
func (d *DefiLlama) translate(entry poolEntry) (model.YieldPool, bool) {
	chainID, ok := llamaChains[strings.ToLower(strings.TrimSpace(entry.Chain))]
	if !ok {
		return model.YieldPool{}, false
	}
	protocolID, ok := llamaProjects[strings.ToLower(strings.TrimSpace(entry.Project))]
	if !ok {
		return model.YieldPool{}, false
	}
	if !strings.EqualFold(strings.TrimSpace(entry.Symbol), "USDC") {
		return model.YieldPool{}, false
	}
	proto, ok := registry.ProtocolByID(protocolID)
	if !ok {
		return model.YieldPool{}, false
	}
	depositToken, ok := proto.DepositTokens[chainID]
	if !ok {
		return model.YieldPool{}, false
	}
	apy := 0.0
	if entry.APY != nil {
		apy = *entry.APY
	}
	tvl := 0.0
	if entry.TVLUSD != nil {
		tvl = *entry.TVLUSD
	}
	pool := model.YieldPool{
		PoolID:       entry.Pool,
		ChainID:      chainID,
		Protocol:     protocolID,
		Symbol:       "USDC",
		APY:          apy,
		RiskScore:    proto.RiskScore,
		TVLUSD:       tvl,
		DepositToken: depositToken,
	}
	if pool.Validate() != nil || !pool.Usable() {
		return model.YieldPool{}, false
	}
	return pool, true
}
