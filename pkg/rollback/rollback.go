// Package rollback undoes completed installation stages after a failure.
package rollback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edgeprov/edge-installer/pkg/errors"
)

// Step is one stage as seen by the rollback engine, listed in forward order.
type Step struct {
	Name      string
	Completed bool

	// Compensate undoes the stage. When nil, ManualNote is reported instead.
	Compensate func(ctx context.Context) error
	ManualNote string
}

// Report summarizes a rollback pass.
type Report struct {
	Compensated []string
	Failures    []*errors.RollbackError
	Notes       []string
}

// Engine runs compensations in reverse order.
type Engine struct{}

// New creates a rollback engine.
func New() *Engine { return &Engine{} }

// Rollback compensates every completed step, last stage first. Steps that were not
// completed are never touched. A failing or panicking compensation is recorded and
// the remaining ones still run. Rollback always returns a report.
func (e *Engine) Rollback(ctx context.Context, steps []Step) *Report {
	// Compensations must still run when the failure was a cancellation.
	ctx = context.WithoutCancel(ctx)

	report := &Report{}
	slog.Warn("rollback_started", "steps", len(steps))

	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if !step.Completed {
			continue
		}

		if step.Compensate == nil {
			note := step.ManualNote
			if note == "" {
				note = fmt.Sprintf("Stage %q cannot be undone automatically; manual remediation may be required.", step.Name)
			}
			slog.Warn("rollback_manual_remediation", "stage", step.Name, "note", note)
			report.Notes = append(report.Notes, note)
			continue
		}

		slog.Info("rollback_compensating", "stage", step.Name)
		if err := compensate(ctx, step); err != nil {
			rbErr := &errors.RollbackError{Stage: step.Name, Err: err}
			slog.Error("rollback_compensation_failed", "stage", step.Name, "error", err)
			report.Failures = append(report.Failures, rbErr)
			report.Notes = append(report.Notes,
				fmt.Sprintf("Automatic undo of %q failed (%v); manual remediation may be required.", step.Name, err))
			continue
		}
		report.Compensated = append(report.Compensated, step.Name)
	}

	slog.Warn("rollback_finished",
		"compensated", len(report.Compensated),
		"failed", len(report.Failures),
		"notes", len(report.Notes))
	return report
}

func compensate(ctx context.Context, step Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return step.Compensate(ctx)
}
