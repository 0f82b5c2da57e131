package app

import (
	"context"
	"log/slog"
	"os"

	"github.com/edgeprov/edge-installer/pkg/db"
	"github.com/edgeprov/edge-installer/pkg/errors"
)

// History returns the most recent runs, newest first
func (a *App) History(ctx context.Context, limit int) ([]*db.Run, error) {
	runs, err := a.Ledger.List(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list failed")
	}
	return runs, nil
}

// CleanupReport lists what Cleanup removed
type CleanupReport struct {
	TriggerRemoved bool
	TokenRemoved   bool
	Removed        []string
	Abandoned      int64
}

// Cleanup removes every artifact a stopped or crashed run can leave behind:
// the resume task, the continuation token, downloads and FSM journals.
// Runs still marked running in the ledger are marked cancelled.
func (a *App) Cleanup(ctx context.Context) (*CleanupReport, error) {
	report := &CleanupReport{}
	name := a.resumeTask().Name

	exists, err := a.Trigger.Exists(ctx, name)
	if err != nil {
		return report, errors.Wrap(err, "failed to query resume task")
	}
	if exists {
		if err := a.Trigger.Delete(ctx, name); err != nil {
			return report, errors.Wrap(err, "failed to delete resume task")
		}
		report.TriggerRemoved = true
	}

	tokens := a.tokenStore()
	if tokens.Exists() {
		if err := tokens.Delete(); err != nil {
			return report, err
		}
		report.TokenRemoved = true
	}

	for _, dir := range []string{a.Config.Path("downloads"), a.Config.Path(a.Config.JournalPath)} {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return report, errors.Wrap(err, "failed to remove "+dir)
		}
		report.Removed = append(report.Removed, dir)
	}

	if a.Ledger != nil {
		n, err := a.Ledger.AbandonRunning(ctx)
		if err != nil {
			return report, errors.Wrap(err, "failed to update ledger")
		}
		report.Abandoned = n
	}

	slog.Info("cleanup_completed",
		"trigger_removed", report.TriggerRemoved,
		"token_removed", report.TokenRemoved,
		"removed", len(report.Removed),
		"abandoned", report.Abandoned)
	return report, nil
}
