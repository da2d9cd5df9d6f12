// Package executor turns a rebalance decision into on-chain transactions.
// All value-moving calls go through the custodial vault's executeStrategy
// entry point; the operator key only ever signs calls to vault contracts.
package executor

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/zeusfi/yield-agent/internal/chain"
	agenterr "github.com/zeusfi/yield-agent/internal/errors"
	"github.com/zeusfi/yield-agent/internal/model"
	"github.com/zeusfi/yield-agent/internal/registry"
	"github.com/zeusfi/yield-agent/internal/router"
	"github.com/zeusfi/yield-agent/internal/signer"
)

const (
	// Fallback gas limits when estimation fails.
	executeStrategyFallbackGas = 500_000
	redeemSharesFallbackGas    = 300_000
)

// Router is the slice of the aggregator client the executor needs.
type Router interface {
	Quote(ctx context.Context, req router.QuoteRequest) (router.Quote, error)
	WaitForCompletion(ctx context.Context, txHash string) (router.StatusResult, error)
}

// Executor performs multi-step vault moves. At most one move runs per vault
// at a time.
type Executor struct {
	chains *chain.Registry
	router Router
	signer signer.Signer
	log    *zap.Logger

	mu         sync.Mutex
	vaultLocks map[string]*sync.Mutex
}

func New(chains *chain.Registry, rt Router, sg signer.Signer, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		chains:     chains,
		router:     rt,
		signer:     sg,
		log:        log,
		vaultLocks: map[string]*sync.Mutex{},
	}
}

// MoveRequest describes one rebalance: pull the source position back to USDC
// (unless it is already idle), then route it into the target pool.
type MoveRequest struct {
	FromVault model.Vault
	ToVault   model.Vault
	Position  model.PositionInfo
	Target    model.YieldPool

	// OnSubmitted fires when the final routing transaction is broadcast,
	// before its confirmation.
	OnSubmitted func(txHash string)
}

// Execute runs the move and returns the hash of the routing transaction.
// Cross-chain moves additionally wait for the bridge to settle.
func (e *Executor) Execute(ctx context.Context, req MoveRequest) (string, error) {
	unlock := e.lockVaults(req.FromVault, req.ToVault)
	defer unlock()

	client, err := e.chains.Client(ctx, req.FromVault.ChainID)
	if err != nil {
		return "", err
	}

	amount := req.Position.Amount
	if !req.Position.Idle() {
		if err := e.unwind(ctx, client, req.FromVault, req.Position); err != nil {
			return "", err
		}
		amount, err = e.idleBalance(ctx, client, req.FromVault)
		if err != nil {
			return "", err
		}
		if amount == nil || amount.Sign() <= 0 {
			return "", agenterr.New(agenterr.CodeExecution, "unwind confirmed but vault holds no USDC")
		}
	}

	return e.deploy(ctx, client, req, amount)
}

// unwind converts a deployed position back into USDC inside the source vault.
func (e *Executor) unwind(ctx context.Context, client *chain.Client, vault model.Vault, pos model.PositionInfo) error {
	proto, ok := registry.ProtocolByID(pos.Protocol)
	if !ok {
		return agenterr.New(agenterr.CodeConfig, "unknown protocol "+pos.Protocol)
	}

	vaultAddr := common.HexToAddress(vault.Address)
	switch proto.Kind {
	case registry.KindShareSettled:
		// Zero shares redeems the vault's entire position.
		calldata, err := chain.PackRedeemShares(common.HexToAddress(pos.DepositToken), big.NewInt(0))
		if err != nil {
			return err
		}
		hash, err := client.Submit(ctx, e.signer, vaultAddr, calldata, chain.DefaultSubmitOptions(redeemSharesFallbackGas))
		if err != nil {
			return err
		}
		e.log.Info("redeemed shares",
			zap.Int64("chain_id", vault.ChainID), zap.String("protocol", pos.Protocol), zap.String("tx", hash))
		return nil
	default:
		usdc, ok := registry.USDCAddress(vault.ChainID)
		if !ok {
			return agenterr.New(agenterr.CodeConfig, fmt.Sprintf("no USDC address for chain %d", vault.ChainID))
		}
		quote, err := e.router.Quote(ctx, router.QuoteRequest{
			FromChain:   vault.ChainID,
			FromToken:   pos.DepositToken,
			FromAmount:  pos.Amount,
			ToChain:     vault.ChainID,
			ToToken:     usdc,
			FromAddress: vault.Address,
		})
		if err != nil {
			return err
		}
		hash, err := e.executeRoute(ctx, client, vaultAddr, common.HexToAddress(pos.DepositToken), pos.Amount, quote, nil)
		if err != nil {
			return err
		}
		e.log.Info("swapped deposit token to USDC",
			zap.Int64("chain_id", vault.ChainID), zap.String("protocol", pos.Protocol), zap.String("tx", hash))
		return nil
	}
}

// deploy routes idle USDC from the source vault into the target pool's
// deposit token, bridging when the pool lives on another chain.
func (e *Executor) deploy(ctx context.Context, client *chain.Client, req MoveRequest, amount *big.Int) (string, error) {
	usdc, ok := registry.USDCAddress(req.FromVault.ChainID)
	if !ok {
		return "", agenterr.New(agenterr.CodeConfig, fmt.Sprintf("no USDC address for chain %d", req.FromVault.ChainID))
	}

	crossChain := req.FromVault.ChainID != req.Target.ChainID
	quoteReq := router.QuoteRequest{
		FromChain:   req.FromVault.ChainID,
		FromToken:   usdc,
		FromAmount:  amount,
		ToChain:     req.Target.ChainID,
		ToToken:     req.Target.DepositToken,
		FromAddress: req.FromVault.Address,
	}
	if crossChain {
		quoteReq.ToAddress = req.ToVault.Address
	}
	quote, err := e.router.Quote(ctx, quoteReq)
	if err != nil {
		return "", err
	}

	hash, err := e.executeRoute(ctx, client, common.HexToAddress(req.FromVault.Address), common.HexToAddress(usdc), amount, quote, req.OnSubmitted)
	if err != nil {
		return hash, err
	}

	if crossChain {
		status, err := e.router.WaitForCompletion(ctx, hash)
		if err != nil {
			return hash, err
		}
		if status.State == router.StateFailed {
			return hash, agenterr.New(agenterr.CodeExecution, fmt.Sprintf("bridge reported failure (%s, tx %s)", status.Substatus, hash))
		}
	}

	e.log.Info("deployed to pool",
		zap.Int64("from_chain", req.FromVault.ChainID),
		zap.Int64("to_chain", req.Target.ChainID),
		zap.String("protocol", req.Target.Protocol),
		zap.String("tx", hash))
	return hash, nil
}

// executeRoute runs one routed leg through the vault: executeStrategy
// approves the sell amount of the sell token to the router and replays the
// routed calldata in the same call.
func (e *Executor) executeRoute(ctx context.Context, client *chain.Client, vault, sellToken common.Address, amount *big.Int, quote router.Quote, onSent func(string)) (string, error) {
	routeData, err := quote.Calldata()
	if err != nil {
		return "", err
	}
	calldata, err := chain.PackExecuteStrategy(sellToken, amount, routeData)
	if err != nil {
		return "", err
	}
	opts := chain.DefaultSubmitOptions(executeStrategyFallbackGas)
	opts.OnSent = onSent
	return client.Submit(ctx, e.signer, vault, calldata, opts)
}

func (e *Executor) idleBalance(ctx context.Context, client *chain.Client, vault model.Vault) (*big.Int, error) {
	usdc, ok := registry.USDCAddress(vault.ChainID)
	if !ok {
		return nil, agenterr.New(agenterr.CodeConfig, fmt.Sprintf("no USDC address for chain %d", vault.ChainID))
	}
	return client.TokenBalance(ctx, common.HexToAddress(usdc), common.HexToAddress(vault.Address))
}

// lockVaults takes the per-vault locks for both endpoints in a fixed order.
func (e *Executor) lockVaults(vaults ...model.Vault) func() {
	keys := make([]string, 0, len(vaults))
	seen := map[string]bool{}
	for _, v := range vaults {
		key := fmt.Sprintf("%d:%s", v.ChainID, strings.ToLower(v.Address))
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	locks := make([]*sync.Mutex, 0, len(keys))
	e.mu.Lock()
	for _, key := range keys {
		lock, ok := e.vaultLocks[key]
		if !ok {
			lock = &sync.Mutex{}
			e.vaultLocks[key] = lock
		}
		locks = append(locks, lock)
	}
	e.mu.Unlock()

	for _, lock := range locks {
		lock.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}
