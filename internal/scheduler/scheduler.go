// Package scheduler runs the periodic sweeps: publishing due scheduled
// notifications, expiring stale ones, resubmitting failed ones and
// applying the retention policy.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/statsor/notify/internal/config"
	"github.com/statsor/notify/internal/retrier"
)

type sweepService interface {
	ProcessDueScheduled(ctx context.Context, limit int) (int, error)
	RepublishStalePending(ctx context.Context, age time.Duration, limit int) (int, error)
	ExpireStale(ctx context.Context, limit int) (int, error)
	ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type retrySweeper interface {
	Sweep(ctx context.Context) (retrier.Summary, error)
}

// Scheduler drives the sweep loops on independent tickers.
type Scheduler struct {
	service sweepService
	retrier retrySweeper
	cfg     config.Scheduler
	now     func() time.Time
}

// New creates a new Scheduler.
func New(service sweepService, retrier retrySweeper, cfg config.Scheduler) *Scheduler {
	return &Scheduler{
		service: service,
		retrier: retrier,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run starts the sweep loops and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(4)
	go s.loop(ctx, &wg, "scheduled", s.cfg.ScheduledInterval, s.sweepScheduled)
	go s.loop(ctx, &wg, "expire", s.cfg.ExpireInterval, s.sweepExpired)
	go s.loop(ctx, &wg, "retry", s.cfg.RetryInterval, s.sweepRetries)
	go s.loop(ctx, &wg, "retention", s.cfg.RetentionInterval, s.sweepRetention)

	wg.Wait()
	zlog.Logger.Print("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, wg *sync.WaitGroup, name string, interval time.Duration, sweep func(context.Context)) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	zlog.Logger.Printf("%s sweep started, interval %s", name, interval)

	for {
		select {
		case <-ctx.Done():
			zlog.Logger.Printf("%s sweep shutting down", name)
			return
		case <-ticker.C:
			sweep(ctx)
		}
	}
}

func (s *Scheduler) sweepScheduled(ctx context.Context) {
	published, err := s.service.ProcessDueScheduled(ctx, s.cfg.SweepLimit)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("scheduled sweep failed")
		return
	}
	if published > 0 {
		zlog.Logger.Info().Int("published", published).Msg("published due notifications")
	}

	// Pending records older than the age threshold lost their create-time
	// publish; give them a fresh queue message.
	requeued, err := s.service.RepublishStalePending(ctx, s.cfg.PendingAge, s.cfg.SweepLimit)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("stale pending sweep failed")
		return
	}
	if requeued > 0 {
		zlog.Logger.Info().Int("requeued", requeued).Msg("republished stale pending notifications")
	}
}

func (s *Scheduler) sweepExpired(ctx context.Context) {
	expired, err := s.service.ExpireStale(ctx, s.cfg.SweepLimit)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("expire sweep failed")
		return
	}
	if expired > 0 {
		zlog.Logger.Info().Int("expired", expired).Msg("expired stale notifications")
	}
}

func (s *Scheduler) sweepRetention(ctx context.Context) {
	now := s.now()

	archived, err := s.service.ArchiveOlderThan(ctx, now.Add(-s.cfg.ArchiveAfter))
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("retention archive failed")
	}

	deleted, err := s.service.DeleteOlderThan(ctx, now.Add(-s.cfg.DeleteAfter))
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("retention delete failed")
	}

	if archived > 0 || deleted > 0 {
		zlog.Logger.Info().
			Int64("archived", archived).
			Int64("deleted", deleted).
			Msg("retention sweep finished")
	}
}

func (s *Scheduler) sweepRetries(ctx context.Context) {
	sum, err := s.retrier.Sweep(ctx)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("retry sweep failed")
		return
	}
	if sum.Selected > 0 {
		zlog.Logger.Info().
			Int("selected", sum.Selected).
			Int("retried", sum.Retried).
			Int("waiting", sum.Waiting).
			Int("exhausted", sum.Exhausted).
			Msg("retry sweep finished")
	}
}
