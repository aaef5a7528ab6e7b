package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/driphub/driphub/internal/config"
	"github.com/driphub/driphub/internal/queue"
)

// Janitor periodically requeues jobs stranded by a crash and purges
// completed and abandoned jobs past retention.
type Janitor struct {
	queue    *queue.Queue
	ttl      time.Duration
	lease    time.Duration
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewJanitor(cfg config.RetentionConfig, q *queue.Queue, log zerolog.Logger) *Janitor {
	return &Janitor{
		queue:    q,
		ttl:      cfg.JobTTL,
		lease:    cfg.JobLease,
		interval: cfg.SweepInterval,
		log:      log,
		stop:     make(chan struct{}),
	}
}

func (j *Janitor) Start(ctx context.Context) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		// Sweep once right away so jobs orphaned by the previous run are
		// picked up without waiting a full interval.
		j.sweep(ctx)

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-j.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.sweep(ctx)
			}
		}
	}()
}

func (j *Janitor) sweep(ctx context.Context) {
	now := time.Now().UTC()

	reclaimed, err := j.queue.ReclaimStale(ctx, now.Add(-j.lease))
	if err != nil {
		j.log.Error().Err(err).Msg("stale job reclamation failed")
	} else if reclaimed > 0 {
		j.log.Warn().Int64("reclaimed", reclaimed).Msg("requeued jobs stranded by a crash")
	}

	purged, err := j.queue.Purge(ctx, now.Add(-j.ttl))
	if err != nil {
		j.log.Error().Err(err).Msg("job purge failed")
		return
	}
	if purged > 0 {
		j.log.Info().Int64("purged", purged).Msg("purged old jobs")
	}
}

func (j *Janitor) Stop() {
	close(j.stop)
	j.wg.Wait()
}
