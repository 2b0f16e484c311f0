// Package scheduler runs the periodic passes of the wallet engine: each job
// has its own ticker, runs never overlap and a job can be triggered early.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrJobRunning is returned by RunNow while the job is already running
	ErrJobRunning = errors.New("job already running")

	// ErrUnknownJob is returned for a job name that was never added
	ErrUnknownJob = errors.New("unknown job")

	// ErrStarted is returned when adding a job to a started scheduler
	ErrStarted = errors.New("scheduler already started")
)

// Job is one periodic pass.
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run. Zero means the run is only bounded by
	// the scheduler lifetime.
	Timeout time.Duration
	// RunOnStart runs the job once as soon as the scheduler starts
	RunOnStart bool
	Run        func(ctx context.Context) error
}

type jobState struct {
	job     Job
	running atomic.Bool
	trigger chan struct{}
}

// Scheduler runs jobs on independent tickers.
type Scheduler struct {
	logger  *zap.Logger
	metrics *Metrics

	mu      sync.Mutex
	jobs    map[string]*jobState
	started bool

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a scheduler.
func New(logger *zap.Logger, metrics *Metrics) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		logger:  logger.Named("scheduler"),
		metrics: metrics,
		jobs:    make(map[string]*jobState),
	}
}

// Add registers a job. Jobs must be added before Start.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run function")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already added", job.Name)
	}
	s.jobs[job.Name] = &jobState{job: job, trigger: make(chan struct{}, 1)}
	return nil
}

// Start launches one goroutine per job.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancelFunc = context.WithCancel(ctx)

	for _, js := range s.jobs {
		s.wg.Add(1)
		go s.loop(js)
	}
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop cancels the jobs and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancelFunc
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Trigger requests an early run of a job. Requests made while one is
// already waiting are coalesced.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	js, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case js.trigger <- struct{}{}:
	default:
	}
	return true
}

// RunNow runs a job synchronously in the caller's goroutine, failing with
// ErrJobRunning when a run is in progress.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	js, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	ran, err := s.execute(ctx, js)
	if !ran {
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	return err
}

func (s *Scheduler) loop(js *jobState) {
	defer s.wg.Done()

	ticker := time.NewTicker(js.job.Interval)
	defer ticker.Stop()

	if js.job.RunOnStart {
		s.execute(s.ctx, js)
	}
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		case <-js.trigger:
		}
		if s.ctx.Err() != nil {
			return
		}
		s.execute(s.ctx, js)
	}
}

// execute runs js unless a run is already in progress.
func (s *Scheduler) execute(ctx context.Context, js *jobState) (bool, error) {
	if !js.running.CompareAndSwap(false, true) {
		s.metrics.recordSkipped(js.job.Name)
		s.logger.Debug("skipping overlapping run", zap.String("job", js.job.Name))
		return false, nil
	}
	defer js.running.Store(false)

	if js.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, js.job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := js.job.Run(ctx)
	s.metrics.observeRun(js.job.Name, start, err)
	if err != nil {
		s.logger.Warn("job failed",
			zap.String("job", js.job.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	}
	return true, err
}
