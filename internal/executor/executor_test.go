package executor

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/zeusfi/yield-agent/internal/chain"
	"github.com/zeusfi/yield-agent/internal/model"
	"github.com/zeusfi/yield-agent/internal/registry"
	"github.com/zeusfi/yield-agent/internal/router"
	"github.com/zeusfi/yield-agent/internal/signer"
)

// Well-known throwaway development key.
const testKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

// vaultRPC confirms every broadcast immediately and reports a fixed idle
// USDC balance on contract reads.
type vaultRPC struct {
	mu       sync.Mutex
	chainID  *big.Int
	balance  *big.Int
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
}

func newVaultRPC(chainID int64, balance *big.Int) *vaultRPC {
	return &vaultRPC{
		chainID:  big.NewInt(chainID),
		balance:  balance,
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (f *vaultRPC) ChainID(ctx context.Context) (*big.Int, error) { return f.chainID, nil }
func (f *vaultRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (f *vaultRPC) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (f *vaultRPC) HeaderByNumber(ctx context.Context, n *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1_000_000_000)}, nil
}
func (f *vaultRPC) PendingNonceAt(ctx context.Context, a common.Address) (uint64, error) {
	return 0, nil
}
func (f *vaultRPC) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}
func (f *vaultRPC) CallContract(ctx context.Context, msg ethereum.CallMsg, n *big.Int) ([]byte, error) {
	return common.LeftPadBytes(f.balance.Bytes(), 32), nil
}
func (f *vaultRPC) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	f.receipts[tx.Hash()] = &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}
	return nil
}
func (f *vaultRPC) TransactionReceipt(ctx context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[h]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

// fakeRouter records quote requests and answers every one with the same
// executable payload.
type fakeRouter struct {
	mu     sync.Mutex
	quotes []router.QuoteRequest
	status router.State
	waits  int
}

func (f *fakeRouter) Quote(ctx context.Context, req router.QuoteRequest) (router.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes = append(f.quotes, req)
	return router.Quote{
		ID:              "route-1",
		Tool:            "test",
		ApprovalAddress: "0x2222222222222222222222222222222222222222",
		TransactionRequest: router.TransactionRequest{
			To:      "0x3333333333333333333333333333333333333333",
			Data:    "0xdeadbeef",
			Value:   "0x0",
			ChainID: req.FromChain,
		},
	}, nil
}

func (f *fakeRouter) WaitForCompletion(ctx context.Context, txHash string) (router.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits++
	return router.StatusResult{State: f.status}, nil
}

type harness struct {
	exec   *Executor
	rpc    *vaultRPC
	router *fakeRouter
}

func newHarness(t *testing.T, balance *big.Int) *harness {
	t.Helper()
	rpc := newVaultRPC(8453, balance)
	chains := chain.NewRegistryWithDial(func(ctx context.Context, rpcURL string) (chain.RPC, func(), error) {
		return rpc, nil, nil
	}, nil)
	fr := &fakeRouter{status: router.StateDone}
	sg, err := signer.New(signer.Config{PrivateKeyHex: testKeyHex})
	if err != nil {
		t.Fatalf("build signer: %v", err)
	}
	return &harness{exec: New(chains, fr, sg, nil), rpc: rpc, router: fr}
}

func baseVault() model.Vault {
	return model.Vault{
		WalletAddress: "0xabc",
		ChainID:       8453,
		Address:       "0x1111111111111111111111111111111111111111",
		Active:        true,
	}
}

func targetPool(chainID int64, protocol string) model.YieldPool {
	token, _ := registry.DepositToken(protocol, chainID)
	return model.YieldPool{
		PoolID:       "target",
		ChainID:      chainID,
		Protocol:     protocol,
		Symbol:       "USDC",
		APY:          6,
		RiskScore:    registry.ProtocolRiskScore(protocol),
		TVLUSD:       1_000_000,
		DepositToken: token,
	}
}

func idlePosition(amount int64) model.PositionInfo {
	usdc, _ := registry.USDCAddress(8453)
	return model.PositionInfo{
		ChainID:   8453,
		Protocol:  model.ProtocolWallet,
		Token:     usdc,
		Amount:    big.NewInt(amount),
		AmountUSD: decimal.New(amount, -6),
	}
}

func deployedPosition(protocol string, amount int64) model.PositionInfo {
	usdc, _ := registry.USDCAddress(8453)
	token, _ := registry.DepositToken(protocol, 8453)
	return model.PositionInfo{
		ChainID:      8453,
		Protocol:     protocol,
		Token:        usdc,
		Amount:       big.NewInt(amount),
		AmountUSD:    decimal.New(amount, -6),
		DepositToken: token,
	}
}

func selector(data []byte) []byte {
	if len(data) < 4 {
		return nil
	}
	return data[:4]
}

// decodeExecuteStrategy unpacks a submitted executeStrategy call into its
// approval token, approval amount, and router calldata.
func decodeExecuteStrategy(t *testing.T, data []byte) (common.Address, *big.Int, []byte) {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(registry.YieldVaultABI))
	if err != nil {
		t.Fatalf("parse vault ABI: %v", err)
	}
	method := parsed.Methods["executeStrategy"]
	if !bytes.Equal(selector(data), method.ID) {
		t.Fatalf("calldata selector %x is not executeStrategy", selector(data))
	}
	vals, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack executeStrategy: %v", err)
	}
	return vals[0].(common.Address), vals[1].(*big.Int), vals[2].([]byte)
}

func TestIdleDeployIsSingleRoute(t *testing.T) {
	h := newHarness(t, big.NewInt(5_000_000))

	var submitted string
	hash, err := h.exec.Execute(context.Background(), MoveRequest{
		FromVault:   baseVault(),
		ToVault:     baseVault(),
		Position:    idlePosition(5_000_000),
		Target:      targetPool(8453, "aave-v3"),
		OnSubmitted: func(txHash string) { submitted = txHash },
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if hash == "" || hash != submitted {
		t.Fatalf("OnSubmitted saw %q, Execute returned %q", submitted, hash)
	}
	if len(h.router.quotes) != 1 {
		t.Fatalf("idle deploy should quote once, quoted %d times", len(h.router.quotes))
	}
	if len(h.rpc.sent) != 1 {
		t.Fatalf("idle deploy is a single executeStrategy call, got %d transactions", len(h.rpc.sent))
	}
	tx := h.rpc.sent[0]
	vaultAddr := common.HexToAddress(baseVault().Address)
	if tx.To() == nil || *tx.To() != vaultAddr {
		t.Fatalf("transaction targets %v, want the vault", tx.To())
	}
	usdc, _ := registry.USDCAddress(8453)
	approveToken, approveAmount, routerData := decodeExecuteStrategy(t, tx.Data())
	if approveToken != common.HexToAddress(usdc) {
		t.Fatalf("approval token %s, want USDC %s", approveToken.Hex(), usdc)
	}
	if approveAmount.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Fatalf("approval amount %s, want the full sell amount", approveAmount)
	}
	if !bytes.Equal(routerData, common.FromHex("0xdeadbeef")) {
		t.Fatalf("router calldata %x, want the quoted payload", routerData)
	}
	if h.router.waits != 0 {
		t.Fatal("same-chain deploy must not wait on the bridge tracker")
	}
}

func TestShareSettledUnwindSkipsRouter(t *testing.T) {
	h := newHarness(t, big.NewInt(7_000_000))

	_, err := h.exec.Execute(context.Background(), MoveRequest{
		FromVault: baseVault(),
		ToVault:   baseVault(),
		Position:  deployedPosition("morpho-v1", 7_000_000),
		Target:    targetPool(8453, "aave-v3"),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	// Only the deploy leg quotes; the unwind is a native redemption.
	if len(h.router.quotes) != 1 {
		t.Fatalf("share-settled unwind must not quote, got %d quotes", len(h.router.quotes))
	}
	if len(h.rpc.sent) != 2 {
		t.Fatalf("expected redeem + route, got %d transactions", len(h.rpc.sent))
	}
	redeemSel, err := chain.PackRedeemShares(common.Address{}, big.NewInt(0))
	if err != nil {
		t.Fatalf("pack reference calldata: %v", err)
	}
	if !bytes.Equal(selector(h.rpc.sent[0].Data()), selector(redeemSel)) {
		t.Fatal("first transaction must call redeemShares")
	}
	// The deploy leg approves the observed USDC balance, not the share count.
	usdc, _ := registry.USDCAddress(8453)
	approveToken, approveAmount, _ := decodeExecuteStrategy(t, h.rpc.sent[1].Data())
	if approveToken != common.HexToAddress(usdc) {
		t.Fatalf("deploy approval token %s, want USDC", approveToken.Hex())
	}
	if approveAmount.Cmp(big.NewInt(7_000_000)) != 0 {
		t.Fatalf("deploy approval amount %s, want the re-read vault balance", approveAmount)
	}
}

func TestSwapSettledUnwindRoutesThroughAggregator(t *testing.T) {
	h := newHarness(t, big.NewInt(9_000_000))

	_, err := h.exec.Execute(context.Background(), MoveRequest{
		FromVault: baseVault(),
		ToVault:   baseVault(),
		Position:  deployedPosition("aave-v3", 9_000_000),
		Target:    targetPool(8453, "euler-v2"),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	// One quote per leg: aUSDC back to USDC, then USDC into the target token.
	if len(h.router.quotes) != 2 {
		t.Fatalf("swap-settled rebalance should quote twice, got %d", len(h.router.quotes))
	}
	usdc, _ := registry.USDCAddress(8453)
	unwind := h.router.quotes[0]
	if unwind.ToToken != usdc || unwind.FromChain != 8453 || unwind.ToChain != 8453 {
		t.Fatalf("unwind quote should sell into same-chain USDC, got %+v", unwind)
	}
	if len(h.rpc.sent) != 2 {
		t.Fatalf("expected one executeStrategy per leg, got %d transactions", len(h.rpc.sent))
	}
	// Unwind approves the deposit token, deploy approves USDC.
	aToken, _ := registry.DepositToken("aave-v3", 8453)
	unwindToken, unwindAmount, _ := decodeExecuteStrategy(t, h.rpc.sent[0].Data())
	if unwindToken != common.HexToAddress(aToken) {
		t.Fatalf("unwind approval token %s, want the deposit token %s", unwindToken.Hex(), aToken)
	}
	if unwindAmount.Cmp(big.NewInt(9_000_000)) != 0 {
		t.Fatalf("unwind approval amount %s, want the position amount", unwindAmount)
	}
	deployToken, _, _ := decodeExecuteStrategy(t, h.rpc.sent[1].Data())
	if deployToken != common.HexToAddress(usdc) {
		t.Fatalf("deploy approval token %s, want USDC", deployToken.Hex())
	}
}

func TestCrossChainDeployWaitsForBridge(t *testing.T) {
	h := newHarness(t, big.NewInt(5_000_000))
	toVault := baseVault()
	toVault.ChainID = 42161
	toVault.Address = "0x4444444444444444444444444444444444444444"

	_, err := h.exec.Execute(context.Background(), MoveRequest{
		FromVault: baseVault(),
		ToVault:   toVault,
		Position:  idlePosition(5_000_000),
		Target:    targetPool(42161, "euler-v2"),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if h.router.waits != 1 {
		t.Fatalf("cross-chain deploy should wait for the bridge once, waited %d times", h.router.waits)
	}
	deploy := h.router.quotes[0]
	if deploy.ToAddress != toVault.Address {
		t.Fatalf("bridged funds must land in the destination vault, got %q", deploy.ToAddress)
	}
}

func TestCrossChainBridgeFailureSurfaces(t *testing.T) {
	h := newHarness(t, big.NewInt(5_000_000))
	h.router.status = router.StateFailed
	toVault := baseVault()
	toVault.ChainID = 42161
	toVault.Address = "0x4444444444444444444444444444444444444444"

	_, err := h.exec.Execute(context.Background(), MoveRequest{
		FromVault: baseVault(),
		ToVault:   toVault,
		Position:  idlePosition(5_000_000),
		Target:    targetPool(42161, "euler-v2"),
	})
	if err == nil {
		t.Fatal("bridge failure must surface as an error")
	}
}
