package app

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/zeusfi/yield-agent/internal/agent"
	"github.com/zeusfi/yield-agent/internal/monitor"
)

// runDaemon schedules cycles and reconcile passes until the context is
// cancelled. Overlapping runs of the same job are skipped rather than queued.
func (s *runtimeState) runDaemon(ctx context.Context, cycle *agent.Cycle, mon *monitor.Monitor) error {
	logger := cronLogger{log: s.log}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))

	if _, err := c.AddFunc(s.settings.Schedule, func() {
		sum, err := cycle.Run(ctx)
		if err != nil {
			s.log.Error("scheduled cycle failed", zap.Error(err))
			return
		}
		s.log.Info("scheduled cycle finished",
			zap.Int("wallets", sum.Wallets),
			zap.Int("moves", sum.Moves),
			zap.Int("skipped", sum.Skipped),
			zap.Int("errors", sum.Errors))
	}); err != nil {
		return err
	}

	if _, err := c.AddFunc(s.settings.MonitorSchedule, func() {
		sum := mon.Reconcile(ctx)
		s.log.Info("scheduled reconcile finished",
			zap.Int("checked", sum.Checked),
			zap.Int("confirmed", sum.Confirmed),
			zap.Int("failed", sum.Failed),
			zap.Int("still_open", sum.StillOpen))
	}); err != nil {
		return err
	}

	s.log.Info("daemon started",
		zap.String("cycle_schedule", s.settings.Schedule),
		zap.String("monitor_schedule", s.settings.MonitorSchedule))
	c.Start()
	<-ctx.Done()
	s.log.Info("daemon stopping")
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}

// cronLogger bridges cron's logger to zap.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
