// Package scheduler runs periodic maintenance for DengueCast, such as sweeping
// idle intake sessions out of memory.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule is used when no sweep schedule is configured.
const DefaultSweepSchedule = "@every 5m"

// Sweeper removes sessions idle for longer than the given duration.
type Sweeper interface {
	Sweep(idle time.Duration) int
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// 5-field cron expressions plus descriptors such as "@every 5m", with panic recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// ScheduleSweep runs sw.Sweep(idle) on the given schedule.
func (s *Scheduler) ScheduleSweep(expr string, sw Sweeper, idle time.Duration) error {
	if expr == "" {
		expr = DefaultSweepSchedule
	}
	err := s.AddJob(expr, func() {
		if n := sw.Sweep(idle); n > 0 {
			slog.Info("Scheduler sweep removed idle sessions", "removed", n, "idle", idle)
		}
	})
	if err != nil {
		slog.Error("Scheduler ScheduleSweep: invalid schedule", "schedule", expr, "error", err)
		return err
	}
	slog.Debug("Scheduler ScheduleSweep: sweep scheduled", "schedule", expr, "idle", idle)
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
