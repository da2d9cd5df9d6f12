// Package agent runs the yield-optimization cycle: snapshot pools and
// positions, decide moves, and drive the executor. Wallets are isolated from
// each other; one wallet's failure never skips the rest.
package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zeusfi/yield-agent/internal/engine"
	agenterr "github.com/zeusfi/yield-agent/internal/errors"
	"github.com/zeusfi/yield-agent/internal/executor"
	"github.com/zeusfi/yield-agent/internal/model"
	"github.com/zeusfi/yield-agent/internal/pools"
	"github.com/zeusfi/yield-agent/internal/store"
)

// Consumer-side interfaces so the cycle can be tested without chains or
// providers behind it.
type positionReader interface {
	ForVaults(ctx context.Context, vaults []model.Vault) []model.PositionInfo
}

type gasEstimator interface {
	EstimateMoveUSD(ctx context.Context, fromChain, toChain int64) float64
}

type mover interface {
	Execute(ctx context.Context, req executor.MoveRequest) (string, error)
}

// Book resolves the configured wallets and their vaults.
type Book interface {
	Wallets() []model.Wallet
	VaultsFor(wallet string) []model.Vault
}

type Cycle struct {
	pools     pools.Source
	positions positionReader
	gas       gasEstimator
	mover     mover
	store     *store.Store
	book      Book
	dryRun    bool
	log       *zap.Logger
}

func NewCycle(src pools.Source, reader positionReader, gas gasEstimator, mv mover, st *store.Store, book Book, dryRun bool, log *zap.Logger) *Cycle {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cycle{
		pools:     src,
		positions: reader,
		gas:       gas,
		mover:     mv,
		store:     st,
		book:      book,
		dryRun:    dryRun,
		log:       log,
	}
}

// Summary counts what one cycle did.
type Summary struct {
	Wallets  int
	Moves    int
	Skipped  int
	Errors   int
	DryMoves int
}

// Run executes one full cycle. The pool snapshot is fetched once and shared
// across wallets.
func (c *Cycle) Run(ctx context.Context) (Summary, error) {
	candidates, err := c.pools.Pools(ctx)
	if err != nil {
		return Summary{}, agenterr.Wrap(agenterr.CodeUnavailable, "fetch pool snapshot", err)
	}
	c.log.Info("pool snapshot fetched", zap.Int("pools", len(candidates)))

	var sum Summary
	for _, wallet := range c.book.Wallets() {
		sum.Wallets++
		if err := c.runWallet(ctx, wallet, candidates, &sum); err != nil {
			sum.Errors++
			c.log.Error("wallet cycle failed", zap.String("wallet", wallet.Address), zap.Error(err))
		}
	}
	return sum, nil
}

func (c *Cycle) runWallet(ctx context.Context, wallet model.Wallet, candidates []model.YieldPool, sum *Summary) error {
	vaults := c.book.VaultsFor(wallet.Address)
	if len(vaults) == 0 {
		c.log.Debug("wallet has no vaults", zap.String("wallet", wallet.Address))
		return nil
	}

	best, ok := engine.SelectBest(candidates, wallet.Preferences)
	if !ok {
		c.log.Info("no eligible pools for wallet", zap.String("wallet", wallet.Address))
		return nil
	}

	toVault, ok := vaultOn(vaults, best.ChainID)
	if !ok {
		c.log.Warn("best pool is on a chain without a vault",
			zap.String("wallet", wallet.Address), zap.Int64("chain_id", best.ChainID))
		return nil
	}

	positions := c.positions.ForVaults(ctx, vaults)
	idle, deployed := engine.Partition(positions)

	// Cross-chain gas applies as soon as any deployed position sits on a
	// different chain than the best pool.
	fromChain := best.ChainID
	for _, pos := range deployed {
		if pos.ChainID != best.ChainID {
			fromChain = pos.ChainID
			break
		}
	}
	gasUSD := c.gas.EstimateMoveUSD(ctx, fromChain, best.ChainID)

	decision := engine.Decide(positions, best, candidates, wallet.Preferences, gasUSD)
	if !decision.Move {
		sum.Skipped++
		c.log.Info("holding",
			zap.String("wallet", wallet.Address),
			zap.String("reason", decision.Reason))
		return nil
	}

	if c.dryRun {
		sum.DryMoves++
		c.log.Info("dry run, skipping execution",
			zap.String("wallet", wallet.Address),
			zap.String("reason", decision.Reason))
		return nil
	}

	if decision.DeployIdle {
		for _, pos := range idle {
			if err := c.move(ctx, wallet, vaults, toVault, pos, best, decision, sum); err != nil {
				return err
			}
		}
		return nil
	}
	return c.move(ctx, wallet, vaults, toVault, deployed[0], best, decision, sum)
}

func (c *Cycle) move(ctx context.Context, wallet model.Wallet, vaults []model.Vault, toVault model.Vault, pos model.PositionInfo, best model.YieldPool, decision engine.Decision, sum *Summary) error {
	fromVault, ok := vaultOn(vaults, pos.ChainID)
	if !ok {
		return agenterr.New(agenterr.CodeConfig, fmt.Sprintf("position on chain %d has no vault", pos.ChainID))
	}

	rec := model.NewRebalanceRecord(
		wallet.Address,
		model.Endpoint{ChainID: pos.ChainID, Protocol: pos.Protocol, Vault: fromVault.Address},
		model.Endpoint{ChainID: best.ChainID, Protocol: best.Protocol, Vault: toVault.Address},
		pos.AmountUSD,
		decision.Reason,
	)
	if !decision.DeployIdle {
		apy := decision.CurrentAPY
		rec.FromAPY = &apy
	}
	target := best.APY
	rec.ToAPY = &target

	// The record must be durable before anything is broadcast.
	if err := c.store.Save(rec); err != nil {
		return err
	}

	hash, execErr := c.mover.Execute(ctx, executor.MoveRequest{
		FromVault: fromVault,
		ToVault:   toVault,
		Position:  pos,
		Target:    best,
		OnSubmitted: func(txHash string) {
			if err := rec.MarkSubmitted(txHash); err != nil {
				c.log.Warn("record transition rejected", zap.String("record_id", rec.ID), zap.Error(err))
				return
			}
			if err := c.store.Save(rec); err != nil {
				c.log.Error("persisting submitted record failed", zap.String("record_id", rec.ID), zap.Error(err))
			}
		},
	})
	if execErr != nil {
		// A timeout after broadcast stays SUBMITTED; the monitor owns it
		// from here. Everything else fails the record now.
		if ae, ok := agenterr.As(execErr); ok && rec.Status == model.StatusSubmitted && ae.Code == agenterr.CodeTimeout {
			c.log.Warn("move unresolved, leaving record to the monitor",
				zap.String("record_id", rec.ID), zap.String("tx", hash))
			return execErr
		}
		if err := rec.MarkFailed(execErr.Error()); err == nil {
			if saveErr := c.store.Save(rec); saveErr != nil {
				c.log.Error("persisting failed record failed", zap.String("record_id", rec.ID), zap.Error(saveErr))
			}
		}
		return execErr
	}

	if err := rec.MarkSuccess(); err != nil {
		return err
	}
	if err := c.store.Save(rec); err != nil {
		return err
	}
	sum.Moves++
	c.log.Info("rebalance complete",
		zap.String("wallet", wallet.Address),
		zap.String("record_id", rec.ID),
		zap.String("tx", hash))
	return nil
}

func vaultOn(vaults []model.Vault, chainID int64) (model.Vault, bool) {
	for _, v := range vaults {
		if v.ChainID == chainID && v.Active {
			return v, true
		}
	}
	return model.Vault{}, false
}
