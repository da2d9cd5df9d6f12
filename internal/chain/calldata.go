package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	agenterr "github.com/zeusfi/yield-agent/internal/errors"
)

// PackExecuteStrategy encodes the vault's routing entry point: approve
// approveAmount of approveToken to the router and run routerData.
func PackExecuteStrategy(approveToken common.Address, approveAmount *big.Int, routerData []byte) ([]byte, error) {
	if approveAmount == nil {
		approveAmount = big.NewInt(0)
	}
	out, err := vaultABI.Pack("executeStrategy", approveToken, approveAmount, routerData)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeInternal, "pack executeStrategy", err)
	}
	return out, nil
}

// PackRedeemShares encodes a share redemption. A zero share count redeems the
// vault's full balance.
func PackRedeemShares(shareToken common.Address, shares *big.Int) ([]byte, error) {
	if shares == nil {
		shares = big.NewInt(0)
	}
	out, err := vaultABI.Pack("redeemShares", shareToken, shares)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeInternal, "pack redeemShares", err)
	}
	return out, nil
}
