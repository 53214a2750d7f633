package processing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/PhotoDrop/internal/queue"
)

// ErrQueueFull is returned by EnqueueDerivatives when the pool's buffer is
// saturated.
var ErrQueueFull = errors.New("processing queue full")

// Pool runs derivative jobs on in-process goroutines. It stands in for the
// asynq worker when QUEUE_BACKEND=inline.
type Pool struct {
	processor *Processor
	queue     chan Job
	workers   int
	retries   int
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[Job]struct{}
	wg      sync.WaitGroup
}

var _ queue.Enqueuer = (*Pool)(nil)

// NewPool builds a Pool with queue capacity tied to worker count.
func NewPool(processor *Processor, workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		processor: processor,
		queue:     make(chan Job, workers*16),
		workers:   workers,
		retries:   3,
		logger:    logger,
		pending:   make(map[Job]struct{}),
	}
}

// Start launches worker goroutines. They exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Submit queues job. A job identical to one still waiting is dropped.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	if _, ok := p.pending[job]; ok {
		p.mu.Unlock()
		return nil
	}
	p.pending[job] = struct{}{}
	p.mu.Unlock()

	select {
	case p.queue <- job:
		return nil
	default:
		p.forget(job)
		p.logger.Warn("processor queue full, dropping job", zap.String("photo_id", job.PhotoID))
		return ErrQueueFull
	}
}

// EnqueueDerivatives implements queue.Enqueuer.
func (p *Pool) EnqueueDerivatives(_ context.Context, payload queue.DerivativePayload) error {
	if err := p.Submit(JobFromPayload(payload)); err != nil {
		return fmt.Errorf("enqueue derivatives: %w", err)
	}
	return nil
}

// EnqueueCaption implements queue.Enqueuer. Inline mode has no caption
// consumer, so the request is logged and dropped.
func (p *Pool) EnqueueCaption(_ context.Context, payload queue.CaptionPayload) error {
	p.logger.Debug("caption request dropped in inline mode",
		zap.String("photo_id", payload.PhotoID),
		zap.String("image_path", payload.ImagePath),
	)
	return nil
}

func (p *Pool) forget(job Job) {
	p.mu.Lock()
	delete(p.pending, job)
	p.mu.Unlock()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.forget(job)
			p.run(ctx, job)
		}
	}
}

// run retries a job whose photo is locked by another run, with a short
// linear backoff.
func (p *Pool) run(ctx context.Context, job Job) {
	log := p.logger.With(zap.String("photo_id", job.PhotoID))
	for attempt := 0; ; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, queue.TaskTimeout)
		_, err := p.processor.Process(runCtx, job)
		cancel()
		if err == nil {
			return
		}
		if !errors.Is(err, ErrJobInProgress) || attempt >= p.retries {
			log.Error("derivative job failed", zap.Int("attempt", attempt+1), zap.Error(err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}
}
