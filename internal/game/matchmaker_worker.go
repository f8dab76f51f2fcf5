package game

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/triadarena/backend/internal/config"
)

// ScheduleWorkers registers the matchmaking rescan, queue expiry and match
// eviction jobs on sched.
func ScheduleWorkers(ctx context.Context, sched gocron.Scheduler, q *Queue, m *Manager, cfg *config.Config) error {
	rescan := time.Duration(cfg.QueueRescanSeconds) * time.Second
	if rescan <= 0 {
		rescan = 5 * time.Second
	}
	expiry := time.Duration(cfg.QueueExpiryMinutes) * time.Minute
	retention := time.Duration(cfg.MatchRetentionMin) * time.Minute

	if _, err := sched.NewJob(
		gocron.DurationJob(rescan),
		gocron.NewTask(func() {
			if n := q.Rescan(ctx); n > 0 {
				log.Printf("[MATCHMAKER] Rescan created %d matches", n)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return err
	}

	if expiry > 0 {
		if _, err := sched.NewJob(
			gocron.DurationJob(time.Minute),
			gocron.NewTask(func() { q.ExpireStale(expiry) }),
		); err != nil {
			return err
		}
	}

	if retention > 0 {
		if _, err := sched.NewJob(
			gocron.DurationJob(time.Minute),
			gocron.NewTask(func() { m.EvictFinished(ctx, retention) }),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return err
		}
	}

	log.Printf("[MATCHMAKER] Workers scheduled (rescan every %v, queue expiry %v, match retention %v)", rescan, expiry, retention)
	return nil
}
