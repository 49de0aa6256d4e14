package reconcile

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type prefetchJob struct {
	ids  []int64
	opts Options
}

// Prefetcher reconciles read-ahead batches in the background. It runs on its
// own context, so a finished or cancelled request never aborts queued work.
type Prefetcher struct {
	rec    *Reconciler
	jobs   chan prefetchJob
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPrefetcher starts a single worker draining a queue of queueSize batches.
func NewPrefetcher(rec *Reconciler, queueSize int, logger *zap.Logger) *Prefetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Prefetcher{
		rec:    rec,
		jobs:   make(chan prefetchJob, queueSize),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Enqueue schedules ids without blocking. It reports false when the queue is
// full or the prefetcher is closed; the batch is then simply dropped and the
// articles are reconciled when their page is requested.
func (p *Prefetcher) Enqueue(ids []int64, opts Options) bool {
	if len(ids) == 0 {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- prefetchJob{ids: append([]int64(nil), ids...), opts: opts}:
		return true
	default:
		p.logger.Debug("prefetch queue full, dropping batch", zap.Int("articles", len(ids)))
		return false
	}
}

// Close stops the worker, abandoning queued batches, and waits for it to exit.
func (p *Prefetcher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

func (p *Prefetcher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			outcomes := p.rec.ReconcileBatch(p.ctx, job.ids, job.opts)
			failed := 0
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
				}
			}
			p.logger.Debug("prefetch batch done",
				zap.Int("articles", len(job.ids)), zap.Int("failed", failed))
		}
	}
}
