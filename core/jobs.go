package core

import (
	"context"
	"time"

	"github.com/sentra-id/sentra/logger"
)

const (
	keySweepInterval      = time.Hour
	forensicPurgeInterval = time.Hour
	cacheSweepInterval    = time.Minute
)

// StartJobs launches the periodic maintenance loops: retired signing key
// sweep, forensic session purge, and stale policy snapshot sweep. Each task
// is idempotent, so a missed or doubled tick is harmless.
func (c *Core) StartJobs() {
	c.runPeriodic("key sweep", keySweepInterval, func(ctx context.Context) {
		removed, err := c.keys.SweepRetired(ctx)
		if err != nil {
			c.logger.Error("key retirement sweep failed", logger.Err(err))
			return
		}
		if removed > 0 {
			c.logger.Info("swept retired signing keys", logger.Int("count", removed))
		}
	})
	c.runPeriodic("forensic purge", forensicPurgeInterval, func(ctx context.Context) {
		if _, err := c.sessions.PurgeExpired(ctx, time.Now().UTC()); err != nil {
			c.logger.Error("forensic session purge failed", logger.Err(err))
		}
	})
	c.runPeriodic("policy cache sweep", cacheSweepInterval, func(ctx context.Context) {
		c.policyCache.SweepStale(ctx)
	})
}

func (c *Core) runPeriodic(name string, interval time.Duration, task func(context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				task(ctx)
				cancel()
			}
		}
	}()
	c.logger.Debug("started background task",
		logger.String("task", name),
		logger.Duration("interval", interval))
}
