package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hairizuan-noorazman/spahost/ingest"
	"github.com/hairizuan-noorazman/spahost/logger"
)

// Recoverer runs one recovery pass.
type Recoverer interface {
	Recover(ctx context.Context) (*ingest.RecoveryReport, error)
}

// Run describes the most recent recovery pass.
type Run struct {
	StartedAt time.Time
	Duration  time.Duration
	Report    *ingest.RecoveryReport
	Err       error
}

// Scheduler runs recovery passes on a cron schedule and on demand. Passes
// never overlap; triggers that arrive while a pass is queued are merged.
type Scheduler struct {
	Work      chan struct{}
	cron      *cron.Cron
	schedule  string
	recoverer Recoverer
	logger    logger.Logger

	mu   sync.Mutex
	last *Run
	runs int
}

// NewScheduler creates a scheduler. schedule uses the standard five field
// cron syntax or a descriptor such as "@every 15m"; an empty schedule only
// runs passes on Trigger.
func NewScheduler(schedule string, r Recoverer, log logger.Logger) (*Scheduler, error) {
	s := &Scheduler{
		Work:      make(chan struct{}, 1),
		cron:      cron.New(),
		schedule:  schedule,
		recoverer: r,
		logger:    log,
	}
	if schedule != "" {
		if _, err := s.cron.AddFunc(schedule, func() { s.Trigger() }); err != nil {
			return nil, fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
		}
	}
	return s, nil
}

// Start begins firing the schedule and processing triggers until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info(ctx, "starting maintenance scheduler", map[string]interface{}{
		"schedule": s.schedule,
	})
	s.cron.Start()
	go s.worker(ctx)
}

// Stop halts the schedule. The returned context is done once a running cron
// callback has returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Trigger queues a recovery pass. It returns false if one is already queued.
func (s *Scheduler) Trigger() bool {
	select {
	case s.Work <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunOnce performs a recovery pass immediately on the calling goroutine.
func (s *Scheduler) RunOnce(ctx context.Context) (*ingest.RecoveryReport, error) {
	start := time.Now()
	report, err := s.recoverer.Recover(ctx)

	s.mu.Lock()
	s.last = &Run{StartedAt: start, Duration: time.Since(start), Report: report, Err: err}
	s.runs++
	s.mu.Unlock()

	if err != nil {
		s.logger.Error(ctx, "maintenance pass failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return report, err
}

// Last returns the most recent pass, or nil if none has run.
func (s *Scheduler) Last() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	run := *s.last
	return &run
}

// Runs returns the number of completed passes.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-s.Work:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.logger.Info(ctx, "maintenance scheduler stopping", nil)
			return
		}
	}
}
