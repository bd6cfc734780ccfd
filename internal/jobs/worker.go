package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/b0r1v0j3/workers-united/internal/metrics"
	"github.com/b0r1v0j3/workers-united/internal/models"
	"github.com/b0r1v0j3/workers-united/pkg/repository"
	"github.com/cockroachdb/errors"
)

type Options struct {
	Workers      int
	PollInterval time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Collector
}

type WorkerPool struct {
	repo         repository.JobRepo
	handlers     map[string]Handler
	logger       *slog.Logger
	metrics      *metrics.Collector
	workerCount  int
	pollInterval time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func NewWorkerPool(repo repository.JobRepo, handlers map[string]Handler, opts Options) *WorkerPool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if handlers == nil {
		handlers = map[string]Handler{}
	}
	return &WorkerPool{
		repo:         repo,
		handlers:     handlers,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		workerCount:  opts.Workers,
		pollInterval: opts.PollInterval,
		stop:         make(chan struct{}),
	}
}

// Handle registers h for job type typ. Call before Start.
func (p *WorkerPool) Handle(typ string, h Handler) {
	p.handlers[typ] = h
}

// Start requeues jobs left running by a previous process and launches the
// worker goroutines.
func (p *WorkerPool) Start(ctx context.Context) {
	if n, err := p.repo.RequeueRunning(ctx); err != nil {
		p.logger.Error("requeue running jobs", "err", err)
	} else if n > 0 {
		p.logger.Warn("requeued interrupted jobs", "count", n)
	}
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started", "workers", p.workerCount, "poll_interval", p.pollInterval)
}

// Stop signals workers to stop and waits for them
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

// sleep waits for d and reports false when the pool is stopping.
func (p *WorkerPool) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.stop:
		return false
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			p.logger.Info("worker stopping", "id", id)
			return
		case <-ctx.Done():
			p.logger.Info("context canceled, worker exiting", "id", id)
			return
		default:
		}

		job, err := p.repo.FetchNext(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("fetch job", "err", err)
			}
			if !p.sleep(ctx, time.Second) {
				return
			}
			continue
		}
		if job == nil {
			if !p.sleep(ctx, p.pollInterval) {
				return
			}
			continue
		}
		p.process(ctx, job)
	}
}

func (p *WorkerPool) process(ctx context.Context, job *models.BackgroundJob) {
	h, ok := p.handlers[job.Type]
	if !ok {
		job.Status = StatusFailed
		job.LastError = "no handler"
		p.deadLetter(context.WithoutCancel(ctx), job)
		return
	}

	start := time.Now()
	err := p.run(ctx, h, job)
	// Bookkeeping must land even when shutdown cancelled the handler.
	ctx = context.WithoutCancel(ctx)
	if err == nil {
		job.Status = StatusDone
		if upErr := p.repo.UpdateJob(ctx, job); upErr != nil {
			p.logger.Error("mark job done", "job_id", job.ID, "err", upErr)
		}
		p.metrics.RecordJobCompleted(time.Since(start).Seconds())
		return
	}

	p.metrics.RecordJobFailed()
	job.Attempts++
	job.LastError = err.Error()
	if job.Attempts >= job.MaxAttempts {
		job.Status = StatusFailed
		p.deadLetter(ctx, job)
		return
	}

	// schedule retry with backoff
	t := time.Now().Add(BackoffDuration(job.Attempts))
	job.NextTryAt = &t
	job.Status = StatusRetry
	p.logger.Warn("job failed, retrying", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts, "next_try_at", t, "err", err)
	if upErr := p.repo.UpdateJob(ctx, job); upErr != nil {
		p.logger.Error("update job for retry", "job_id", job.ID, "err", upErr)
	}
}

// run calls h and turns a handler panic into an error so one bad payload
// cannot take a worker down.
func (p *WorkerPool) run(ctx context.Context, h Handler, job *models.BackgroundJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (p *WorkerPool) deadLetter(ctx context.Context, job *models.BackgroundJob) {
	p.logger.Error("job moved to dead letter", "job_id", job.ID, "type", job.Type, "attempts", job.Attempts, "err", job.LastError)
	p.metrics.RecordJobDead()
	if err := p.repo.MoveToDeadLetter(ctx, job); err != nil {
		p.logger.Error("move to dead letter", "job_id", job.ID, "err", err)
	}
}

// Enqueue convenience helper that creates a job and persists it
func (p *WorkerPool) Enqueue(ctx context.Context, typ string, payload any, priority int, maxAttempts int) (int64, error) {
	return Enqueue(ctx, p.repo, typ, payload, priority, maxAttempts)
}

// Enqueue marshals payload and inserts a job of type typ into repo. It does
// not need a running pool.
func Enqueue(ctx context.Context, repo repository.JobRepo, typ string, payload any, priority int, maxAttempts int) (int64, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, errors.Wrap(err, "marshal job payload")
	}
	j := &models.BackgroundJob{Type: typ, Payload: b, Priority: priority, MaxAttempts: maxAttempts, ScheduledAt: time.Now()}
	return repo.Enqueue(ctx, j)
}
