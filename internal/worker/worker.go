// Package worker runs batch imports on a fixed-size pool fed by a bounded
// queue.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/drivera73/alfresco-bulk-import/internal/logging"
	"github.com/drivera73/alfresco-bulk-import/pkg/importer"
	"github.com/drivera73/alfresco-bulk-import/pkg/item"
	"github.com/drivera73/alfresco-bulk-import/pkg/status"
)

// BatchImporter imports one batch. *importer.Importer implements it.
type BatchImporter interface {
	ImportBatch(ctx context.Context, batch *item.Batch, opts importer.Options) error
}

// Config sizes the pool
type Config struct {
	Threads       int
	QueueCapacity int
	// MaxOutOfOrderRounds bounds how often out-of-order batches are resubmitted
	MaxOutOfOrderRounds int
}

// Pool manages concurrent batch workers
type Pool struct {
	importer BatchImporter
	opts     importer.Options
	cfg      Config
	status   *status.Status
	log      *logging.Logger

	queue   chan *item.Batch
	pending sync.WaitGroup
	workers sync.WaitGroup
	active  atomic.Int32
	rounds  atomic.Int32

	mu       sync.Mutex
	deferred []deferredBatch
}

type deferredBatch struct {
	batch *item.Batch
	err   error
}

// NewPool creates a new worker pool
func NewPool(imp BatchImporter, opts importer.Options, cfg Config, st *status.Status, log *logging.Logger) *Pool {
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = cfg.Threads * 2
	}
	if cfg.MaxOutOfOrderRounds < 0 {
		cfg.MaxOutOfOrderRounds = 0
	}
	return &Pool{
		importer: imp,
		opts:     opts,
		cfg:      cfg,
		status:   st,
		log:      log,
		queue:    make(chan *item.Batch, cfg.QueueCapacity),
	}
}

// Start launches the workers and attaches the pool to the status
func (p *Pool) Start(ctx context.Context) {
	p.status.SetPoolObserver(p)
	for i := 0; i < p.cfg.Threads; i++ {
		p.workers.Add(1)
		go p.worker(ctx)
	}
}

// Submit queues a batch, blocking while the queue is full
func (p *Pool) Submit(ctx context.Context, b *item.Batch) error {
	p.pending.Add(1)
	select {
	case p.queue <- b:
		return nil
	case <-ctx.Done():
		p.pending.Done()
		return ctx.Err()
	}
}

// Wait blocks until every submitted batch is processed, resubmits
// out-of-order batches while rounds make progress, and shuts the workers
// down. Batches still out of order afterwards are recorded as errors.
func (p *Pool) Wait(ctx context.Context) {
	p.pending.Wait()

	for {
		batches := p.takeDeferred()
		if len(batches) == 0 {
			break
		}
		round := int(p.rounds.Load()) + 1
		if round > p.cfg.MaxOutOfOrderRounds || p.status.IsStopping() || ctx.Err() != nil {
			p.abandon(batches)
			break
		}
		p.rounds.Store(int32(round))

		p.log.Info("Resubmitting %d out-of-order batch(es), round %d of %d", len(batches), round, p.cfg.MaxOutOfOrderRounds)
		for _, d := range batches {
			if err := p.Submit(ctx, d.batch); err != nil {
				p.postpone(d.batch, err)
			}
		}
		p.pending.Wait()

		p.mu.Lock()
		stuck := len(p.deferred) == len(batches)
		p.mu.Unlock()
		if stuck {
			p.log.Warn("Out-of-order round %d made no progress", round)
			p.abandon(p.takeDeferred())
			break
		}
	}

	close(p.queue)
	p.workers.Wait()
	p.status.SetPoolObserver(nil)
}

func (p *Pool) worker(ctx context.Context) {
	defer p.workers.Done()

	for b := range p.queue {
		p.process(ctx, b)
		p.pending.Done()
	}
}

func (p *Pool) process(ctx context.Context, b *item.Batch) {
	if err := p.status.WaitWhilePaused(ctx); err != nil {
		return
	}
	if p.status.IsStopping() || ctx.Err() != nil {
		return
	}

	p.active.Add(1)
	err := p.importer.ImportBatch(ctx, b, p.opts)
	p.active.Add(-1)

	var ooo *importer.OutOfOrderBatchError
	switch {
	case err == nil:
	case errors.As(err, &ooo):
		p.log.Debug("%s is out of order: %v", b, err)
		p.status.IncrementTargetCounter(status.OutOfOrderBatches, 1)
		p.postpone(b, err)
	case errors.Is(err, importer.ErrInterrupted):
		p.log.Debug("%s interrupted", b)
	default:
		p.log.Error("%s failed: %v", b, err)
		p.status.UnexpectedError(failedPath(b, err), err)
	}
}

func (p *Pool) postpone(b *item.Batch, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deferred = append(p.deferred, deferredBatch{batch: b, err: err})
}

func (p *Pool) takeDeferred() []deferredBatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.deferred
	p.deferred = nil
	return out
}

func (p *Pool) abandon(batches []deferredBatch) {
	for _, d := range batches {
		p.log.Error("%s abandoned: %v", d.batch, d.err)
		p.status.UnexpectedError(d.batch.String(), d.err)
	}
}

// failedPath names the item behind a batch failure when there is one
func failedPath(b *item.Batch, err error) string {
	var iie *importer.ItemImportError
	if errors.As(err, &iie) {
		return iie.Item.TargetPath()
	}
	var dre *importer.DryRunError
	if errors.As(err, &dre) {
		return dre.DryRun.Item().TargetPath()
	}
	return b.String()
}

// QueueSize returns the number of queued batches
func (p *Pool) QueueSize() int {
	return len(p.queue)
}

// QueueCapacity returns the queue bound
func (p *Pool) QueueCapacity() int {
	return cap(p.queue)
}

// Active returns the number of batches being imported
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// PoolSize returns the number of workers
func (p *Pool) PoolSize() int {
	return p.cfg.Threads
}

// Rounds returns the number of out-of-order resubmission rounds run
func (p *Pool) Rounds() int {
	return int(p.rounds.Load())
}
