// Package positions reads a wallet's on-chain vault holdings: idle USDC plus
// whatever is deployed into each supported protocol.
package positions

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zeusfi/yield-agent/internal/chain"
	"github.com/zeusfi/yield-agent/internal/model"
	"github.com/zeusfi/yield-agent/internal/registry"
)

// Reader snapshots positions across a wallet's vaults. Individual read
// failures degrade to a skipped position, not a failed snapshot; the engine
// works with whatever could be observed.
type Reader struct {
	chains *chain.Registry
	log    *zap.Logger
}

func NewReader(chains *chain.Registry, log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{chains: chains, log: log}
}

// ForVaults reads every active vault. The returned slice holds only
// positions with a non-zero balance.
func (r *Reader) ForVaults(ctx context.Context, vaults []model.Vault) []model.PositionInfo {
	out := make([]model.PositionInfo, 0, len(vaults))
	for _, v := range vaults {
		if !v.Active {
			continue
		}
		out = append(out, r.forVault(ctx, v)...)
	}
	return out
}

func (r *Reader) forVault(ctx context.Context, v model.Vault) []model.PositionInfo {
	client, err := r.chains.Client(ctx, v.ChainID)
	if err != nil {
		r.log.Warn("skipping vault, chain client unavailable",
			zap.Int64("chain_id", v.ChainID), zap.String("vault", v.Address), zap.Error(err))
		return nil
	}

	vaultAddr := common.HexToAddress(v.Address)
	var out []model.PositionInfo

	usdc, ok := registry.USDCAddress(v.ChainID)
	if ok {
		bal, err := client.TokenBalance(ctx, common.HexToAddress(usdc), vaultAddr)
		if err != nil {
			r.log.Warn("idle balance read failed",
				zap.Int64("chain_id", v.ChainID), zap.String("vault", v.Address), zap.Error(err))
		} else if bal.Sign() > 0 {
			out = append(out, position(v, model.ProtocolWallet, usdc, "", bal))
		}
	}

	for _, protoID := range registry.SupportedProtocolIDs() {
		proto, _ := registry.ProtocolByID(protoID)
		token, ok := proto.DepositTokens[v.ChainID]
		if !ok {
			continue
		}
		amount, err := r.deployedAmount(ctx, client, proto, common.HexToAddress(token), vaultAddr)
		if err != nil {
			r.log.Warn("deployed balance read failed",
				zap.Int64("chain_id", v.ChainID), zap.String("protocol", protoID), zap.Error(err))
			continue
		}
		if amount.Sign() > 0 {
			out = append(out, position(v, protoID, usdc, token, amount))
		}
	}
	return out
}

// deployedAmount resolves a protocol position to underlying USDC units.
// Rebasing deposit tokens redeem 1:1; share tokens go through the vault's
// own conversion.
func (r *Reader) deployedAmount(ctx context.Context, client *chain.Client, proto registry.Protocol, token, vault common.Address) (*big.Int, error) {
	switch proto.Kind {
	case registry.KindSwapSettled:
		return client.TokenBalance(ctx, token, vault)
	default:
		shares, err := client.ShareBalance(ctx, token, vault)
		if err != nil {
			return nil, err
		}
		if shares.Sign() == 0 {
			return big.NewInt(0), nil
		}
		return client.ConvertToAssets(ctx, token, shares)
	}
}

func position(v model.Vault, protocol, usdc, depositToken string, amount *big.Int) model.PositionInfo {
	return model.PositionInfo{
		ChainID:      v.ChainID,
		Protocol:     protocol,
		Token:        usdc,
		Amount:       amount,
		AmountUSD:    decimal.NewFromBigInt(amount, -int32(model.USDCDecimals)),
		DepositToken: depositToken,
	}
}
