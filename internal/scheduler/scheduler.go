// Package scheduler runs the control plane's background maintenance
// jobs: nightly history retention and periodic license revalidation.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anexgohan/pankha/internal/logger"
)

// Scheduler wraps a cron instance with panic-recovering job wrappers.
type Scheduler struct {
	cron *cron.Cron
}

// New creates a Scheduler. Call Start to begin running jobs.
func New() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// Start begins the cron scheduler's background goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler, waiting for any running job to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

// Schedule registers a job under a cron expression, wrapped with panic
// recovery and logging so one bad job can't take down the scheduler.
func (s *Scheduler) Schedule(name, cronExpr string, job func()) error {
	wrapped := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Scheduler().Error().Interface("panic", r).Str("job", name).Msg("scheduled job panicked")
			}
		}()
		start := time.Now()
		job()
		logger.Scheduler().Debug().Str("job", name).Dur("elapsed", time.Since(start)).Msg("scheduled job completed")
	}

	_, err := s.cron.AddFunc(cronExpr, wrapped)
	return err
}
