package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/driphub/driphub/internal/config"
	"github.com/driphub/driphub/internal/queue"
	"github.com/driphub/driphub/internal/ratelimit"
)

// Pool runs a fixed number of concurrent worker executions over due jobs.
// Job eligibility is decided by the queue; the pool only polls and bounds
// the concurrency.
type Pool struct {
	queue    *queue.Queue
	worker   *Worker
	workers  int
	pollRate time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewPool(cfg config.DeliveryConfig, store Store, q *queue.Queue, limiter *ratelimit.Limiter, transport Transport, log zerolog.Logger) *Pool {
	worker := NewWorker(store, limiter, transport, cfg.DeferMargin, log)

	return &Pool{
		queue:    q,
		worker:   worker,
		workers:  cfg.Workers,
		pollRate: cfg.PollInterval,
		log:      log,
		stop:     make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Msg("starting delivery worker pool")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.pollLoop(ctx)
	}()
}

func (p *Pool) Stop() {
	p.log.Info().Msg("stopping delivery worker pool")
	close(p.stop)
	p.wg.Wait()
	p.log.Info().Msg("delivery worker pool stopped")
}

func (p *Pool) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.pollRate)
	defer ticker.Stop()

	sem := make(chan struct{}, p.workers)

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := p.queue.ClaimDue(ctx, p.workers)
			if err != nil {
				p.log.Error().Err(err).Msg("failed to claim due jobs")
				continue
			}

			for _, job := range jobs {
				job := job
				sem <- struct{}{}
				p.wg.Add(1)
				go func() {
					defer p.wg.Done()
					defer func() { <-sem }()

					outcome := p.worker.Process(ctx, job)
					if err := p.queue.Resolve(ctx, job, outcome); err != nil {
						p.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to resolve job outcome")
					}
				}()
			}
		}
	}
}
