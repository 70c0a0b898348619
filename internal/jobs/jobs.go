// Package jobs runs periodic maintenance such as autosave on a cron
// schedule.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one named periodic task.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

const jobTimeout = time.Minute

// Scheduler runs jobs on cron schedules. Runs of the same job never overlap.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	logger *slog.Logger
}

// New creates a scheduler whose jobs are cancelled when ctx is.
func New(ctx context.Context, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:    ctx,
		logger: logger,
	}
}

// Add schedules job. The schedule accepts standard five-field expressions and
// descriptors such as "@every 1m".
func (s *Scheduler) Add(schedule string, job Job) error {
	if _, err := s.cron.AddFunc(schedule, func() { s.run(job) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
	}
	s.logger.Info("job scheduled", "job", job.Name, "schedule", schedule)
	return nil
}

func (s *Scheduler) run(job Job) {
	if s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Error("job failed", "job", job.Name, "error", err)
		return
	}
	s.logger.Debug("job complete", "job", job.Name, "duration_ms", time.Since(start).Milliseconds())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
