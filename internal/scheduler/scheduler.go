// Package scheduler drives the simulation: one goroutine runs a cycle of
// named subtasks every price_update_frequency_seconds.
package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"simtrade-core/internal/monitor"
)

// Result is what a subtask reports for the cycle metrics.
type Result struct {
	Instruments int
	Trades      int
}

// Task is one named step of a cycle.
type Task struct {
	Name string
	// Interval, when set, runs the task at most once per interval.
	Interval func() time.Duration
	Run      func(ctx context.Context, now time.Time) (Result, error)
}

// Options wires the scheduler.
type Options struct {
	Tasks   []Task
	Period  func() time.Duration
	Metrics *monitor.SystemMetrics
	Logger  *zap.Logger
	Now     func() time.Time
}

// Scheduler runs cycles on one driver goroutine.
type Scheduler struct {
	tasks   []Task
	period  func() time.Duration
	metrics *monitor.SystemMetrics
	log     *zap.Logger
	now     func() time.Time

	// cycle is held for the whole of a cycle so cycles never overlap.
	cycle   sync.Mutex
	lastRun map[string]time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// New creates a scheduler.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		tasks:   opts.Tasks,
		period:  opts.Period,
		metrics: opts.Metrics,
		log:     opts.Logger,
		now:     opts.Now,
		lastRun: make(map[string]time.Time),
	}
	if s.period == nil {
		s.period = func() time.Duration { return 5 * time.Second }
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.With(zap.String("component", "scheduler"))
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start launches the driver. The period is re-read after every cycle so
// settings changes apply on the next tick.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil || s.stopped {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		timer := time.NewTimer(s.period())
		defer timer.Stop()
		s.log.Info("⏱️ scheduler started", zap.Int("tasks", len(s.tasks)))
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				s.RunCycle(ctx)
				timer.Reset(s.period())
			}
		}
	}()
}

// RunCycle runs every due task once, in order. A failing or panicking task
// is logged and the cycle continues.
func (s *Scheduler) RunCycle(ctx context.Context) monitor.CycleReport {
	s.cycle.Lock()
	defer s.cycle.Unlock()
	if s.isStopped() {
		return monitor.CycleReport{}
	}

	start, wall := s.now(), time.Now()
	report := monitor.CycleReport{StartedAt: start, Subtasks: make(map[string]int64, len(s.tasks))}
	for _, t := range s.tasks {
		if ctx.Err() != nil {
			break
		}
		if t.Interval != nil {
			if last, ok := s.lastRun[t.Name]; ok && start.Sub(last) < t.Interval() {
				continue
			}
		}
		s.lastRun[t.Name] = start

		taskStart := time.Now()
		res, err := s.runTask(ctx, t, start)
		elapsed := time.Since(taskStart)
		report.Subtasks[t.Name] = elapsed.Milliseconds()
		if s.metrics != nil {
			s.metrics.Subtask(t.Name).RecordDuration(elapsed)
		}
		report.InstrumentsProcessed += res.Instruments
		report.TradesResolved += res.Trades
		if err != nil {
			report.Failed = append(report.Failed, t.Name)
			s.log.Warn("⚠️ subtask failed", zap.String("task", t.Name), zap.Error(err))
		}
	}
	report.Duration = time.Since(wall)

	if s.metrics != nil {
		s.metrics.RecordCycle(report)
	}
	s.log.Debug("cycle finished", zap.Int("instruments", report.InstrumentsProcessed),
		zap.Int("trades_resolved", report.TradesResolved), zap.Duration("duration", report.Duration),
		zap.Strings("failed", report.Failed))
	return report
}

func (s *Scheduler) runTask(ctx context.Context, t Task, now time.Time) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
			s.log.Error("💥 subtask panicked", zap.String("task", t.Name), zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	return t.Run(ctx, now)
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop ends the driver and waits for the running cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	// A manual RunCycle may still hold the cycle lock.
	s.cycle.Lock()
	s.cycle.Unlock() //nolint:staticcheck
	s.log.Info("🛑 scheduler stopped")
}
