package syncer

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/config"
	"github.com/fruitsalade/depotsync/internal/logging"
	"github.com/fruitsalade/depotsync/internal/metrics"
)

// ErrPoolStopped is returned when submitting to a stopped pool.
var ErrPoolStopped = errors.New("syncer: pool stopped")

// Job is one unit of work. It captures its own context.
type Job func()

// Pool runs jobs on a fixed number of goroutines. Both status gathering
// and transfers share one pool so the number of simultaneous depot
// commands stays bounded.
type Pool struct {
	size  int
	queue chan Job
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
	done    <-chan struct{}
	cancel  context.CancelFunc
}

// NewPool creates a pool of size workers, capped at config.MaxWorkers.
func NewPool(size int) *Pool {
	return &Pool{
		size:  config.ClampWorkers(size),
		queue: make(chan Job, 1024),
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Start launches the worker goroutines. Once ctx is done no new jobs are
// accepted; queued jobs still run.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = ctx.Done()
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	logging.Info("sync pool started", zap.Int("workers", p.size))
}

// Stop stops accepting jobs, waits for the queue to drain and for the
// workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.cancel()
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	metrics.SetPoolQueueDepth(0)
	logging.Info("sync pool stopped")
}

// Submit queues job, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.started || p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.queue <- job:
		metrics.SetPoolQueueDepth(len(p.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolStopped
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.queue {
		metrics.SetPoolQueueDepth(len(p.queue))
		metrics.AddPoolBusy(1)
		job()
		metrics.AddPoolBusy(-1)
	}
}
