package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is how often the scheduler sweeps when no interval is
// configured.
const DefaultInterval = time.Hour

type SchedulerConfig struct {
	Interval time.Duration

	// AutoMatch also runs auto-match over open jobs after every sweep.
	AutoMatch bool

	// RunOnStart sweeps once immediately instead of waiting a full interval.
	RunOnStart bool
}

// Scheduler runs the sweeper on a fixed interval until stopped.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	match    bool
	onStart  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger

	mu        sync.Mutex
	lastRunAt time.Time
	last      Result
	runs      int64
}

func NewScheduler(ctx context.Context, sw *Sweeper, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	schedCtx, cancel := context.WithCancel(ctx)

	return &Scheduler{
		sweeper:  sw,
		interval: cfg.Interval,
		match:    cfg.AutoMatch,
		onStart:  cfg.RunOnStart,
		ctx:      schedCtx,
		cancel:   cancel,
		logger:   logger,
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("sweep scheduler started", "interval", s.interval, "auto_match", s.match)
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("sweep scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	if s.onStart {
		s.tick(time.Now())
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-ticker.C:
			s.tick(t)
		}
	}
}

func (s *Scheduler) tick(at time.Time) {
	res := s.sweeper.Run(s.ctx)
	if s.match && s.ctx.Err() == nil {
		sum := s.sweeper.AutoMatchOpen(s.ctx)
		if sum.Jobs > 0 {
			s.logger.Info("scheduled auto-match finished", "jobs", sum.Jobs, "matched", sum.Matched, "errors", len(sum.Errors))
		}
	}

	s.mu.Lock()
	s.lastRunAt = at
	s.last = res
	s.runs++
	s.mu.Unlock()
}

// Last returns the most recent sweep result, when it ran and how many
// sweeps the scheduler has completed.
func (s *Scheduler) Last() (Result, time.Time, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastRunAt, s.runs
}
