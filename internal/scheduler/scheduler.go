// Package scheduler provides cron-based scheduling for periodic trend
// reporting.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/patientpulse/patientpulse/internal/notify"
	"github.com/patientpulse/patientpulse/internal/store"
)

// DefaultTrendSchedule reports once a day at 08:00.
const DefaultTrendSchedule = "0 8 * * *"

// Scheduler wraps a cron runner for the periodic jobs.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic recovery.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddTrendReport schedules a recurring job that aggregates stored feedback
// and dispatches the summary. Query and dispatch failures are logged; the
// job never aborts the schedule.
func (s *Scheduler) AddTrendReport(expr string, st store.Store, dispatcher notify.Dispatcher) error {
	return s.AddJob(expr, func() {
		summary, err := st.TrendSummary()
		if err != nil {
			slog.Error("Scheduler trend report: summary query failed", "error", err)
			return
		}
		if summary.TotalRecords == 0 {
			slog.Debug("Scheduler trend report: no feedback yet, skipping dispatch")
			return
		}
		if err := dispatcher.DispatchTrend(context.Background(), summary); err != nil {
			slog.Error("Scheduler trend report: dispatch failed", "error", err)
			return
		}
		slog.Info("Scheduler trend report dispatched",
			"totalRecords", summary.TotalRecords, "topCategory", summary.TopCategory)
	})
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
