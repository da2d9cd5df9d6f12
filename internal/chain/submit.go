package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	agenterr "github.com/zeusfi/yield-agent/internal/errors"
	"github.com/zeusfi/yield-agent/internal/signer"
)

const (
	receiptPollInterval = 2 * time.Second
	receiptWaitTimeout  = 2 * time.Minute
	gasBuffer           = 1.2
)

// SubmitOptions tunes the shared transaction submission sub-protocol.
// FallbackGasLimit is used when gas estimation itself fails; estimation
// failure alone never aborts a submission.
type SubmitOptions struct {
	FallbackGasLimit uint64
	PollInterval     time.Duration
	ReceiptTimeout   time.Duration

	// OnSent fires after broadcast, before the receipt wait. Callers use
	// it to persist the transaction hash.
	OnSent func(txHash string)
}

func DefaultSubmitOptions(fallbackGasLimit uint64) SubmitOptions {
	return SubmitOptions{
		FallbackGasLimit: fallbackGasLimit,
		PollInterval:     receiptPollInterval,
		ReceiptTimeout:   receiptWaitTimeout,
	}
}

// signerNonceLocks serializes nonce allocation per (chain, signer) so two
// concurrent submissions cannot race on the same account nonce.
var (
	signerNonceMu    sync.Mutex
	signerNonceLocks = map[string]*sync.Mutex{}
)

func acquireSignerNonceLock(chainID int64, from common.Address) func() {
	key := fmt.Sprintf("%d:%s", chainID, from.Hex())
	signerNonceMu.Lock()
	lock, ok := signerNonceLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		signerNonceLocks[key] = lock
	}
	signerNonceMu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// Submit builds, signs, and sends a contract call as the operator, then
// blocks until a receipt is observed or the bounded wait elapses. A reverted
// receipt surfaces as CodeExecution carrying the transaction hash; an elapsed
// wait surfaces as CodeTimeout (the transaction may still land and is the
// monitor's job to reconcile). Submissions are never retried.
func (c *Client) Submit(ctx context.Context, txSigner signer.Signer, to common.Address, calldata []byte, opts SubmitOptions) (string, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = receiptPollInterval
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = receiptWaitTimeout
	}

	chainID, err := c.rpc.ChainID(ctx)
	if err != nil {
		return "", agenterr.Wrap(agenterr.CodeUnavailable, "read chain id", err)
	}
	if chainID.Int64() != c.chainID {
		return "", agenterr.New(agenterr.CodeConfig, fmt.Sprintf("rpc chain id %d does not match configured chain %d", chainID.Int64(), c.chainID))
	}

	from := txSigner.Address()
	msg := ethereum.CallMsg{From: from, To: &to, Data: calldata}

	gasLimit, err := c.rpc.EstimateGas(ctx, msg)
	if err != nil {
		// Estimation failure falls back to a generous fixed limit.
		gasLimit = opts.FallbackGasLimit
	} else {
		gasLimit = uint64(float64(gasLimit) * gasBuffer)
	}

	tipCap, err := c.rpc.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(2_000_000_000) // 2 gwei fallback
	}
	header, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", agenterr.Wrap(agenterr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)

	unlock := acquireSignerNonceLock(c.chainID, from)
	nonce, err := c.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		unlock()
		return "", agenterr.Wrap(agenterr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      calldata,
	})
	signed, err := txSigner.SignTx(chainID, tx)
	if err != nil {
		unlock()
		return "", agenterr.Wrap(agenterr.CodeInternal, "sign transaction", err)
	}
	err = c.rpc.SendTransaction(ctx, signed)
	unlock()
	if err != nil {
		return "", agenterr.Wrap(agenterr.CodeUnavailable, "broadcast transaction", err)
	}
	txHash := signed.Hash().Hex()
	if opts.OnSent != nil {
		opts.OnSent(txHash)
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.Receipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return txHash, nil
			}
			return txHash, agenterr.New(agenterr.CodeExecution, fmt.Sprintf("transaction reverted on-chain (tx %s)", txHash))
		}
		select {
		case <-waitCtx.Done():
			return txHash, agenterr.Wrap(agenterr.CodeTimeout, fmt.Sprintf("timed out waiting for receipt (tx %s)", txHash), waitCtx.Err())
		case <-ticker.C:
		}
	}
}
