package main

import (
	"errors"
	"time"

	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// startBatchScheduler runs the daily batch on the cron spec, evaluated in loc.
func startBatchScheduler(l *ledger.Ledger, spec string, loc *time.Location, logger *logrus.Logger) (*cron.Cron, error) {
	cronLogger := cron.PrintfLogger(logger)
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := c.AddFunc(spec, func() { runScheduledBatch(l, logger) }); err != nil {
		return nil, err
	}
	c.Start()
	logger.WithField("schedule", spec).Info("Daily batch scheduled")
	return c, nil
}

func runScheduledBatch(l *ledger.Ledger, logger *logrus.Logger) {
	today := l.Today()
	logger.Infof("Running daily batch for %s...", today.Format("2006-01-02"))
	if _, err := l.RunDailyBatch(today); err != nil {
		if errors.Is(err, ledger.ErrBatchInProgress) {
			logger.Warn("Daily batch skipped, previous run still in progress")
			return
		}
		// The next scheduled run recomputes everything, so nothing is lost.
		logger.Errorf("Daily batch failed: %v", err)
	}
}
