package chain

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	agenterr "github.com/zeusfi/yield-agent/internal/errors"
	"github.com/zeusfi/yield-agent/internal/registry"
)

// RPC is the narrow slice of an Ethereum JSON-RPC client the agent uses.
// *ethclient.Client satisfies it; tests inject fakes.
type RPC interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var (
	erc20ABI   = mustABI(registry.ERC20MinimalABI)
	vaultABI   = mustABI(registry.YieldVaultABI)
	erc4626ABI = mustABI(registry.ERC4626VaultABI)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Client is the per-chain RPC handle. One instance per chain, created lazily
// by the Registry and shared; all methods are safe for concurrent reads.
type Client struct {
	chainID int64
	rpc     RPC
	retries int
}

func NewClient(chainID int64, rpc RPC) *Client {
	return &Client{chainID: chainID, rpc: rpc, retries: 2}
}

func (c *Client) ChainID() int64 { return c.chainID }

// readCall runs a read-only eth_call with bounded exponential backoff.
// Transient RPC failures on reads are retried; writes never are.
func (c *Client) readCall(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, agenterr.Wrap(agenterr.CodeUnavailable, "rpc read cancelled", ctx.Err())
			case <-time.After(time.Duration(attempt*attempt) * 250 * time.Millisecond):
			}
		}
		out, err := c.rpc.CallContract(ctx, msg, nil)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return nil, agenterr.Wrap(agenterr.CodeUnavailable, "rpc read failed", lastErr)
}

// TokenBalance reads an ERC-20 balance.
func (c *Client) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeInternal, "pack balanceOf", err)
	}
	raw, err := c.readCall(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, err
	}
	return unpackBig(erc20ABI, "balanceOf", raw)
}

// TokenDecimals reads an ERC-20 decimals value.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, agenterr.Wrap(agenterr.CodeInternal, "pack decimals", err)
	}
	raw, err := c.readCall(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return 0, err
	}
	out, err := erc20ABI.Unpack("decimals", raw)
	if err != nil || len(out) == 0 {
		return 0, agenterr.Wrap(agenterr.CodeUnavailable, "decode decimals", err)
	}
	dec, ok := out[0].(uint8)
	if !ok {
		return 0, agenterr.New(agenterr.CodeUnavailable, "invalid decimals response type")
	}
	return dec, nil
}

// VaultBalance reads the idle base-token balance custodied by a YieldVault.
func (c *Client) VaultBalance(ctx context.Context, vault common.Address) (*big.Int, error) {
	data, err := vaultABI.Pack("getBalance")
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeInternal, "pack getBalance", err)
	}
	raw, err := c.readCall(ctx, ethereum.CallMsg{To: &vault, Data: data})
	if err != nil {
		return nil, err
	}
	return unpackBig(vaultABI, "getBalance", raw)
}

// ShareBalance reads an ERC-4626 share balance.
func (c *Client) ShareBalance(ctx context.Context, shareToken, holder common.Address) (*big.Int, error) {
	data, err := erc4626ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeInternal, "pack share balanceOf", err)
	}
	raw, err := c.readCall(ctx, ethereum.CallMsg{To: &shareToken, Data: data})
	if err != nil {
		return nil, err
	}
	return unpackBig(erc4626ABI, "balanceOf", raw)
}

// ConvertToAssets converts an ERC-4626 share amount to underlying assets.
func (c *Client) ConvertToAssets(ctx context.Context, shareToken common.Address, shares *big.Int) (*big.Int, error) {
	data, err := erc4626ABI.Pack("convertToAssets", shares)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeInternal, "pack convertToAssets", err)
	}
	raw, err := c.readCall(ctx, ethereum.CallMsg{To: &shareToken, Data: data})
	if err != nil {
		return nil, err
	}
	return unpackBig(erc4626ABI, "convertToAssets", raw)
}

// GasPrice reads the chain's current suggested gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeUnavailable, "read gas price", err)
	}
	return price, nil
}

// Receipt fetches a transaction receipt by hash. A missing receipt returns
// (nil, nil) so callers can distinguish "not yet mined" from RPC failure.
func (c *Client) Receipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	receipt, err := c.rpc.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, agenterr.Wrap(agenterr.CodeUnavailable, "fetch transaction receipt", err)
	}
	return receipt, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if err == ethereum.NotFound {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

func unpackBig(parsed abi.ABI, method string, raw []byte) (*big.Int, error) {
	out, err := parsed.Unpack(method, raw)
	if err != nil || len(out) == 0 {
		return nil, agenterr.Wrap(agenterr.CodeUnavailable, "decode "+method, err)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, agenterr.New(agenterr.CodeUnavailable, "invalid "+method+" response type")
	}
	return v, nil
}
