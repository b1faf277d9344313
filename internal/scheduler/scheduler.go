// Package scheduler runs background jobs on fixed intervals behind a
// leadership gate.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"waitnotify-go/internal/leader"
	"waitnotify-go/internal/metrics"
)

// Job is one unit of periodic work.
type Job interface {
	Name() string
	RunOnce(ctx context.Context) error
}

type entry struct {
	job      Job
	interval time.Duration
}

// Scheduler runs each added job on its own ticker. A job failure or panic
// is logged and never stops the job's loop.
type Scheduler struct {
	logger  *slog.Logger
	entries []entry
	wg      sync.WaitGroup
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Add registers a job. It must be called before Start.
func (s *Scheduler) Add(job Job, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.entries = append(s.entries, entry{job: job, interval: interval})
}

// Start launches one loop per job. Every tick asks gate whether jobs may
// run; a denied tick is skipped. Loops stop when ctx is canceled.
func (s *Scheduler) Start(ctx context.Context, gate leader.Gate) {
	for _, e := range s.entries {
		s.wg.Add(1)
		go s.loop(ctx, gate, e)
	}
}

// Wait blocks until every loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, gate leader.Gate, e entry) {
	defer s.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	s.logger.Info("background job started", "job", e.job.Name(), "interval", e.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("background job stopped", "job", e.job.Name())
			return
		case <-ticker.C:
			s.Tick(ctx, gate, e.job)
		}
	}
}

// Tick runs job once if gate allows it.
func (s *Scheduler) Tick(ctx context.Context, gate leader.Gate, job Job) {
	if ok, reason := gate.Allow(ctx); !ok {
		s.logger.Debug("skipping background job", "job", job.Name(), "reason", reason)
		metrics.JobRunsTotal.WithLabelValues(job.Name(), "skipped").Inc()
		return
	}

	start := time.Now()
	err := run(ctx, job)
	metrics.JobDuration.WithLabelValues(job.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		s.logger.Error("background job failed", "job", job.Name(), "error", err)
		metrics.JobRunsTotal.WithLabelValues(job.Name(), "failure").Inc()
		return
	}
	metrics.JobRunsTotal.WithLabelValues(job.Name(), "success").Inc()
}

func run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.RunOnce(ctx)
}
