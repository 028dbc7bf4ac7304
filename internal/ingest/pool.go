package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull indicates the ingestion queue has no capacity left.
var ErrQueueFull = errors.New("ingestion queue is full")

// Pool runs document ingestions on a bounded set of workers, keeping
// cross-document parallelism under the configured limit so the embedding and
// vector-store providers are not overwhelmed.
type Pool struct {
	orchestrator *Orchestrator
	jobs         chan string
	workers      int
	logger       *slog.Logger

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool creates a Pool with the given worker count and queue capacity.
func NewPool(orchestrator *Orchestrator, workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		orchestrator: orchestrator,
		jobs:         make(chan string, queueSize),
		workers:      workers,
		logger:       logger,
	}
}

// Start launches the workers. They drain the queue until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.work(ctx)
		}
	})
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case documentID, ok := <-p.jobs:
			if !ok {
				return
			}
			if err := p.orchestrator.Ingest(ctx, documentID); err != nil {
				// Already recorded on the document; log at debug for the
				// expected no-op case and warn otherwise.
				if errors.Is(err, ErrNotPending) {
					p.logger.Debug("skipped non-pending document", "document_id", documentID)
				} else {
					p.logger.Warn("queued ingestion failed",
						"document_id", documentID, "error", err)
				}
			}
		}
	}
}

// Enqueue submits a document for ingestion without blocking.
func (p *Pool) Enqueue(documentID string) error {
	select {
	case p.jobs <- documentID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Wait blocks until all workers have exited. Call after cancelling the
// Start context during shutdown.
func (p *Pool) Wait() {
	p.wg.Wait()
}
