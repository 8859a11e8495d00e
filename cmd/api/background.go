package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// startMaintenance schedules the periodic housekeeping jobs.
// Jobs are skipped, not queued, while a previous run is still going.
func (app *application) startMaintenance(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if _, err := c.AddFunc(app.config.sweepSchedule, func() { app.sweepStats(ctx) }); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc("@daily", func() { app.pruneTokens(ctx) }); err != nil {
		return nil, err
	}
	if app.rateLimiter != nil {
		if _, err := c.AddFunc("@every 10m", func() { app.rateLimiter.Sweep() }); err != nil {
			return nil, err
		}
	}

	c.Start()
	app.logger.Infow("maintenance scheduler started", "sweep", app.config.sweepSchedule)
	return c, nil
}

func (app *application) sweepStats(ctx context.Context) {
	start := time.Now()
	res, err := app.moderation.Sweep(ctx)
	if err != nil {
		app.logger.Errorw("stats sweep aborted", "venues", res.Venues, "failed", res.Failed, "error", err)
		return
	}
	app.logger.Infow("stats sweep finished", "venues", res.Venues, "failed", res.Failed, "took", time.Since(start))
}

func (app *application) pruneTokens(ctx context.Context) {
	n, err := app.pushTokens.PruneStale(ctx, app.config.tokenPruneAge)
	if err != nil {
		app.logger.Errorw("push token prune failed", "error", err)
		return
	}
	app.logger.Infow("stale push tokens pruned", "removed", n)
}
