// Package notify delivers critical alerts and trend reports to external
// sinks. Dispatch is fire-and-forget from the workflow's point of view: sink
// failures are logged and never block or fail a conversation.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/patientpulse/patientpulse/internal/models"
)

// Dispatcher is a single notification sink.
type Dispatcher interface {
	DispatchCritical(ctx context.Context, event models.CriticalEvent) error
	DispatchTrend(ctx context.Context, summary models.TrendSummary) error
}

// LogDispatcher writes notifications to the structured log. It is the
// always-on sink and the default when no external sink is configured.
type LogDispatcher struct{}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{}
}

func (d *LogDispatcher) DispatchCritical(ctx context.Context, event models.CriticalEvent) error {
	slog.Warn("CRITICAL ALERT",
		"patientID", event.PatientID,
		"concern", event.ConcernLabel,
		"matchedTerm", event.MatchedTerm,
		"timestamp", event.Timestamp)
	return nil
}

func (d *LogDispatcher) DispatchTrend(ctx context.Context, summary models.TrendSummary) error {
	slog.Info("Trend summary",
		"totalRecords", summary.TotalRecords,
		"averageRating", fmt.Sprintf("%.2f", summary.AverageRating),
		"topCategory", summary.TopCategory)
	return nil
}

// MultiDispatcher fans one event out to every configured sink. Each sink is
// attempted even when an earlier one fails; errors are joined.
type MultiDispatcher struct {
	sinks []Dispatcher
}

func NewMultiDispatcher(sinks ...Dispatcher) *MultiDispatcher {
	return &MultiDispatcher{sinks: sinks}
}

func (d *MultiDispatcher) DispatchCritical(ctx context.Context, event models.CriticalEvent) error {
	var errs []error
	for _, sink := range d.sinks {
		if err := sink.DispatchCritical(ctx, event); err != nil {
			slog.Error("MultiDispatcher.DispatchCritical: sink failed", "error", err, "patientID", event.PatientID)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *MultiDispatcher) DispatchTrend(ctx context.Context, summary models.TrendSummary) error {
	var errs []error
	for _, sink := range d.sinks {
		if err := sink.DispatchTrend(ctx, summary); err != nil {
			slog.Error("MultiDispatcher.DispatchTrend: sink failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
