// Package app wires the agent's components behind the zeusagent command
// tree.
package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zeusfi/yield-agent/internal/agent"
	"github.com/zeusfi/yield-agent/internal/cache"
	"github.com/zeusfi/yield-agent/internal/chain"
	"github.com/zeusfi/yield-agent/internal/config"
	agenterr "github.com/zeusfi/yield-agent/internal/errors"
	"github.com/zeusfi/yield-agent/internal/executor"
	"github.com/zeusfi/yield-agent/internal/gas"
	"github.com/zeusfi/yield-agent/internal/httpx"
	"github.com/zeusfi/yield-agent/internal/model"
	"github.com/zeusfi/yield-agent/internal/monitor"
	"github.com/zeusfi/yield-agent/internal/pools"
	"github.com/zeusfi/yield-agent/internal/positions"
	"github.com/zeusfi/yield-agent/internal/router"
	"github.com/zeusfi/yield-agent/internal/schema"
	"github.com/zeusfi/yield-agent/internal/signer"
	"github.com/zeusfi/yield-agent/internal/store"
	"github.com/zeusfi/yield-agent/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{stdout: stdout, stderr: stderr}
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	verbose  bool
	settings config.Settings
	log      *zap.Logger

	root *cobra.Command

	cache  *cache.Store
	store  *store.Store
	chains *chain.Registry
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	state.close()
	if err == nil {
		return 0
	}
	fmt.Fprintf(r.stderr, "error: %v\n", err)
	return agenterr.ExitCode(err)
}

func (s *runtimeState) close() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.chains != nil {
		s.chains.Close()
	}
	if s.log != nil {
		_ = s.log.Sync()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.Name,
		Short: "Custodial multi-chain USDC yield agent",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "help", "version", "schema":
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return agenterr.Wrap(agenterr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.log = newLogger(s.verbose)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&s.flags.ConfigPath, "config", "", "path to config yaml")
	flags.BoolVar(&s.flags.DryRun, "dry-run", false, "decide but do not execute")
	flags.StringVar(&s.flags.Timeout, "timeout", "", "provider request timeout, e.g. 15s")
	flags.IntVar(&s.flags.Retries, "retries", -1, "provider retry count")
	flags.BoolVar(&s.flags.NoCache, "no-cache", false, "disable the provider cache")
	flags.BoolVarP(&s.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(
		s.newCycleCommand(),
		s.newMonitorCommand(),
		s.newDaemonCommand(),
		s.newPoolsCommand(),
		s.newHistoryCommand(),
		s.newSchemaCommand(),
		newVersionCommand(s.runner.stdout),
	)
	s.root = cmd
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print a machine-readable description of the command tree",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			described, err := schema.Describe(s.root, strings.Join(args, " "))
			if err != nil {
				return agenterr.Wrap(agenterr.CodeUsage, "describe commands", err)
			}
			buf, err := json.MarshalIndent(described, "", "  ")
			if err != nil {
				return agenterr.Wrap(agenterr.CodeInternal, "encode schema", err)
			}
			fmt.Fprintln(s.runner.stdout, string(buf))
			return nil
		},
	}
}

func newLogger(verbose bool) *zap.Logger {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func newVersionCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(stdout, version.Long())
			return nil
		},
	}
}

// components builds the shared dependency graph. withSigner controls whether
// the operator key is loaded; read-only commands never touch it. A non-empty
// walletFilter narrows the cycle to that one wallet.
func (s *runtimeState) components(withSigner bool, walletFilter string) (*agent.Cycle, *monitor.Monitor, error) {
	httpClient := httpx.New(s.settings.Timeout, s.settings.Retries)

	if s.settings.CacheEnabled && s.cache == nil {
		c, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath)
		if err != nil {
			s.log.Warn("cache unavailable, continuing without it", zap.Error(err))
		} else {
			s.cache = c
		}
	}

	st, err := store.Open(s.settings.StorePath, s.settings.StoreLockPath)
	if err != nil {
		return nil, nil, agenterr.Wrap(agenterr.CodeConfig, "open record store", err)
	}
	s.store = st

	s.chains = chain.NewRegistry(s.settings.RPCOverrides)
	rt := router.New(httpClient, s.settings.LiFiAPIKey)
	source := pools.NewDefiLlama(httpClient, s.cache)
	reader := positions.NewReader(s.chains, s.log)
	prices := gas.NewLlamaPriceFeed(httpClient, s.cache, s.log)
	estimator := gas.NewEstimator(s.chains, prices, s.log)

	var mover *executor.Executor
	if withSigner && !s.settings.DryRun {
		sg, err := signer.FromEnv()
		if err != nil {
			return nil, nil, err
		}
		mover = executor.New(s.chains, rt, sg, s.log)
	} else {
		mover = executor.New(s.chains, rt, nil, s.log)
	}

	var book agent.Book = settingsBook{settings: s.settings}
	if walletFilter != "" {
		book = filteredBook{inner: book, wallet: walletFilter}
	}
	cycle := agent.NewCycle(source, reader, estimator, mover, st, book, s.settings.DryRun, s.log)
	mon := monitor.New(s.chains, rt, st, s.log)
	return cycle, mon, nil
}

func (s *runtimeState) newCycleCommand() *cobra.Command {
	var walletFilter string
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one rebalance cycle across all configured wallets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cycle, _, err := s.components(true, walletFilter)
			if err != nil {
				return err
			}
			sum, err := cycle.Run(cmd.Context())
			if err != nil {
				return err
			}
			s.log.Info("cycle finished",
				zap.Int("wallets", sum.Wallets),
				zap.Int("moves", sum.Moves),
				zap.Int("skipped", sum.Skipped),
				zap.Int("dry_moves", sum.DryMoves),
				zap.Int("errors", sum.Errors))
			if sum.Errors > 0 {
				return agenterr.New(agenterr.CodeExecution, fmt.Sprintf("%d wallet(s) had errors", sum.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&walletFilter, "wallet", "", "limit the cycle to one wallet address")
	return cmd
}

func (s *runtimeState) newMonitorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Reconcile open rebalance records against chain state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, mon, err := s.components(false, "")
			if err != nil {
				return err
			}
			sum := mon.Reconcile(cmd.Context())
			s.log.Info("reconcile finished",
				zap.Int("checked", sum.Checked),
				zap.Int("confirmed", sum.Confirmed),
				zap.Int("failed", sum.Failed),
				zap.Int("still_open", sum.StillOpen),
				zap.Int("errors", sum.Errors))
			return nil
		},
	}
}

func (s *runtimeState) newPoolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pools",
		Short: "List the current candidate pools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			httpClient := httpx.New(s.settings.Timeout, s.settings.Retries)
			if s.settings.CacheEnabled {
				if c, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath); err == nil {
					s.cache = c
				}
			}
			source := pools.NewDefiLlama(httpClient, s.cache)
			candidates, err := source.Pools(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range candidates {
				fmt.Fprintf(s.runner.stdout, "%-10s %-44s chain=%-6d apy=%6.2f%% risk=%d tvl=$%.0f\n",
					p.Protocol, p.PoolID, p.ChainID, p.APY, p.RiskScore, p.TVLUSD)
			}
			return nil
		},
	}
}

func (s *runtimeState) newHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <wallet>",
		Short: "Show a wallet's rebalance history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(s.settings.StorePath, s.settings.StoreLockPath)
			if err != nil {
				return agenterr.Wrap(agenterr.CodeConfig, "open record store", err)
			}
			s.store = st
			records, err := st.History(args[0], limit)
			if err != nil {
				return err
			}
			for _, rec := range records {
				printRecord(s.runner.stdout, rec)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records to show")
	return cmd
}

func printRecord(w io.Writer, rec *model.RebalanceRecord) {
	line := fmt.Sprintf("%s  %-9s  %s/%s -> %s/%s  $%s",
		rec.CreatedAt.Format(time.RFC3339), rec.Status,
		chainLabel(rec.From.ChainID), rec.From.Protocol,
		chainLabel(rec.To.ChainID), rec.To.Protocol,
		rec.AmountUSD.StringFixed(2))
	if rec.TxHash != "" {
		line += "  " + explorerTxURL(rec.From.ChainID, rec.TxHash)
	}
	if rec.Error != "" {
		line += "  error: " + rec.Error
	}
	fmt.Fprintln(w, line)
}

func (s *runtimeState) newDaemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run cycles and reconciles on a schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cycle, mon, err := s.components(true, "")
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return s.runDaemon(ctx, cycle, mon)
		},
	}
}

// settingsBook adapts config.Settings to the cycle's wallet book.
type settingsBook struct {
	settings config.Settings
}

func (b settingsBook) Wallets() []model.Wallet {
	return b.settings.Wallets
}

func (b settingsBook) VaultsFor(wallet string) []model.Vault {
	return b.settings.VaultsFor(wallet)
}

var _ agent.Book = settingsBook{}

// filteredBook narrows a book to a single wallet address.
type filteredBook struct {
	inner  agent.Book
	wallet string
}

func (b filteredBook) Wallets() []model.Wallet {
	for _, w := range b.inner.Wallets() {
		if strings.EqualFold(w.Address, b.wallet) {
			return []model.Wallet{w}
		}
	}
	return nil
}

func (b filteredBook) VaultsFor(wallet string) []model.Vault {
	return b.inner.VaultsFor(wallet)
}

var _ agent.Book = filteredBook{}
