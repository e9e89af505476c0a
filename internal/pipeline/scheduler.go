package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fishingmap/forum-crawler/internal/ingest"
	"github.com/fishingmap/forum-crawler/internal/metrics"
)

// Runner is the unit of work the scheduler drives.
type Runner interface {
	Run(ctx context.Context) (ingest.CrawlRun, error)
}

// Scheduler fires the pipeline on a fixed interval with at most one run in
// flight. A trigger arriving while a run is active is skipped, not queued,
// and the skip is recorded. Manual triggers obey the same exclusion.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *zap.Logger

	cron    *cron.Cron
	running atomic.Bool

	mu      sync.RWMutex
	lastRun *ingest.CrawlRun

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler builds a Scheduler around runner.
func NewScheduler(runner Runner, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
		cron:     cron.New(),
	}
}

// Start registers the interval entry, fires an immediate first run, and
// begins ticking. It returns once the schedule is installed.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.trigger("interval") }); err != nil {
		return fmt.Errorf("install crawl schedule %q: %w", spec, err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	// First run happens right away rather than one interval from now.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.trigger("startup")
	}()
	return nil
}

// Stop cancels any in-flight run, halts ticking and waits for everything to
// land. Cancellation happens before the cron drain: interval-triggered runs
// execute inside cron jobs and only unwind once the run context dies.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.wg.Wait()
}

// TriggerNow requests an immediate run. It returns false when a run is
// already in flight.
func (s *Scheduler) TriggerNow() bool {
	if s.ctx == nil {
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		s.recordSkip("manual")
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute("manual")
	}()
	return true
}

// Running reports whether a run is in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LastRun returns the most recent run report, if any.
func (s *Scheduler) LastRun() (ingest.CrawlRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastRun == nil {
		return ingest.CrawlRun{}, false
	}
	return *s.lastRun, true
}

func (s *Scheduler) trigger(source string) {
	if !s.running.CompareAndSwap(false, true) {
		s.recordSkip(source)
		return
	}
	s.execute(source)
}

// execute assumes the running flag is held and releases it when done.
func (s *Scheduler) execute(source string) {
	defer s.running.Store(false)
	if s.ctx.Err() != nil {
		return
	}
	report, err := s.runner.Run(s.ctx)
	if err != nil {
		s.logger.Error("crawl run aborted", zap.String("source", source), zap.Error(err))
	}
	s.mu.Lock()
	s.lastRun = &report
	s.mu.Unlock()
}

func (s *Scheduler) recordSkip(source string) {
	metrics.ObserveRunSkipped()
	s.logger.Warn("trigger skipped; run still active", zap.String("source", source))
}
