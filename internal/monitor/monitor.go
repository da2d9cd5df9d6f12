// Package monitor reconciles open rebalance records against chain and bridge
// state. It is the recovery path for crashes between submission and
// confirmation, and for transactions the executor gave up waiting on.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/zeusfi/yield-agent/internal/chain"
	"github.com/zeusfi/yield-agent/internal/model"
	"github.com/zeusfi/yield-agent/internal/router"
	"github.com/zeusfi/yield-agent/internal/store"
)

const (
	// Records younger than this are left alone entirely; the executor may
	// still be inside its own receipt wait.
	gracePeriod = 10 * time.Minute

	// Open records older than this are failed: no hash means the cycle
	// died before broadcast, no receipt means the transaction is stuck.
	stuckThreshold = 30 * time.Minute
)

// StatusChecker resolves the bridge-side state of a cross-chain transfer.
// *router.Client satisfies it.
type StatusChecker interface {
	Status(ctx context.Context, txHash string) (router.StatusResult, error)
}

type Monitor struct {
	chains *chain.Registry
	router StatusChecker
	store  *store.Store
	log    *zap.Logger
	now    func() time.Time
}

func New(chains *chain.Registry, rt StatusChecker, st *store.Store, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{chains: chains, router: rt, store: st, log: log, now: time.Now}
}

// Summary counts what one reconcile pass did.
type Summary struct {
	Checked   int
	Confirmed int
	Failed    int
	StillOpen int
	Errors    int
}

// Reconcile walks every open record and resolves what it can. A failure on
// one record never blocks the rest, and a pass over an already-reconciled
// store changes nothing.
func (m *Monitor) Reconcile(ctx context.Context) Summary {
	records, err := m.store.OpenRecords()
	if err != nil {
		m.log.Error("listing open records failed", zap.Error(err))
		return Summary{Errors: 1}
	}

	var sum Summary
	for _, rec := range records {
		sum.Checked++
		resolved, err := m.reconcileRecord(ctx, rec)
		if err != nil {
			sum.Errors++
			m.log.Warn("record reconcile failed",
				zap.String("record_id", rec.ID), zap.Error(err))
			continue
		}
		switch {
		case !resolved:
			sum.StillOpen++
		case rec.Status == model.StatusSuccess:
			sum.Confirmed++
		case rec.Status == model.StatusFailed:
			sum.Failed++
		}
	}
	return sum
}

// reconcileRecord resolves a single record in place. It reports whether the
// record reached a terminal state.
func (m *Monitor) reconcileRecord(ctx context.Context, rec *model.RebalanceRecord) (bool, error) {
	age := m.now().Sub(rec.CreatedAt)
	if age < gracePeriod {
		return false, nil
	}

	if rec.Status == model.StatusPending {
		if age < stuckThreshold {
			return false, nil
		}
		return true, m.fail(rec, "abandoned before submission")
	}

	receipt, err := m.receipt(ctx, rec)
	if err != nil {
		return false, err
	}
	if receipt == nil {
		if age < stuckThreshold {
			return false, nil
		}
		return true, m.fail(rec, fmt.Sprintf("no receipt within %s (tx %s)", stuckThreshold, rec.TxHash))
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return true, m.fail(rec, "transaction reverted on-chain (tx "+rec.TxHash+")")
	}

	// Same-chain moves are settled by the receipt alone. Cross-chain moves
	// also need the bridge leg to finish.
	if rec.From.ChainID == rec.To.ChainID {
		return true, m.succeed(rec)
	}

	status, err := m.router.Status(ctx, rec.TxHash)
	if err != nil {
		return false, err
	}
	switch status.State {
	case router.StateDone:
		return true, m.succeed(rec)
	case router.StateFailed:
		return true, m.fail(rec, fmt.Sprintf("bridge reported failure (%s, tx %s)", status.Substatus, rec.TxHash))
	default:
		if age >= stuckThreshold {
			return true, m.fail(rec, fmt.Sprintf("bridge not settled within %s (tx %s)", stuckThreshold, rec.TxHash))
		}
		return false, nil
	}
}

func (m *Monitor) receipt(ctx context.Context, rec *model.RebalanceRecord) (*types.Receipt, error) {
	client, err := m.chains.Client(ctx, rec.From.ChainID)
	if err != nil {
		return nil, err
	}
	return client.Receipt(ctx, rec.TxHash)
}

func (m *Monitor) succeed(rec *model.RebalanceRecord) error {
	if err := rec.MarkSuccess(); err != nil {
		return err
	}
	m.log.Info("rebalance confirmed",
		zap.String("record_id", rec.ID), zap.String("tx", rec.TxHash))
	return m.store.Save(rec)
}

func (m *Monitor) fail(rec *model.RebalanceRecord, reason string) error {
	if err := rec.MarkFailed(reason); err != nil {
		return err
	}
	m.log.Warn("rebalance failed",
		zap.String("record_id", rec.ID), zap.String("reason", reason))
	return m.store.Save(rec)
}
