package app

import (
	"context"
	"log/slog"
	"os"

	"github.com/edgeprov/edge-installer/pkg/continuation"
	"github.com/edgeprov/edge-installer/pkg/db"
	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/host"
	"github.com/edgeprov/edge-installer/pkg/install"
)

// ReadDeviceName returns the device name from the first line of a params file
func ReadDeviceName(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Precondition("params_file", err)
	}
	name, err := continuation.FirstLine(data)
	if err != nil {
		return "", errors.Precondition("params_file", err)
	}
	if _, err := install.RegistrationID(name); err != nil {
		return "", err
	}
	return name, nil
}

// Install is the first phase: preflight, then install now or schedule a resume
func (a *App) Install(ctx context.Context, paramsFile string) (continuation.Outcome, error) {
	deviceName, err := ReadDeviceName(paramsFile)
	if err != nil {
		return continuation.OutcomeCompleted, err
	}
	regID, _ := install.RegistrationID(deviceName)

	if a.Preflight != nil {
		if err := a.Preflight.Run(ctx); err != nil {
			return continuation.OutcomeCompleted, err
		}
	}

	run := &db.Run{DeviceName: deviceName, RegistrationID: regID, Phase: db.PhaseInstall}
	a.recordStart(ctx, run)

	tokens := a.tokenStore()
	scheduler := &continuation.Scheduler{
		Prerequisite:   a.Prereq,
		Trigger:        a.Trigger,
		Restarter:      a.Restarter,
		Tokens:         tokens,
		Prompter:       a.Prompter,
		Task:           a.resumeTask(),
		ConfirmRestart: a.Config.ConfirmRestart && !a.Config.AssumeYes,
	}

	outcome, err := scheduler.Start(ctx, continuation.NewToken(deviceName, paramsFile), func(ctx context.Context) error {
		return a.sequence(ctx, deviceName, run.ID)
	})

	switch {
	case err != nil:
		a.recordEnd(ctx, run, db.StatusFailed, err)
		a.cleanupFailedInstall(ctx, tokens, paramsFile)
	case outcome == continuation.OutcomeRestartScheduled:
		a.recordEnd(ctx, run, db.StatusRestartPending, nil)
	case outcome == continuation.OutcomeCancelled:
		a.recordEnd(ctx, run, db.StatusCancelled, nil)
	default:
		a.recordEnd(ctx, run, db.StatusSucceeded, nil)
	}
	return outcome, err
}

// cleanupFailedInstall removes everything that could trigger a later resume
func (a *App) cleanupFailedInstall(ctx context.Context, tokens *continuation.TokenStore, paramsFile string) {
	ctx = context.WithoutCancel(ctx)
	if err := a.Trigger.Delete(ctx, a.resumeTask().Name); err != nil {
		slog.Error("resume_task_cleanup_failed", "error", err)
	}
	if err := tokens.Delete(); err != nil {
		slog.Error("continuation_token_cleanup_failed", "error", err)
	}
	if paramsFile != "" {
		if err := os.Remove(paramsFile); err != nil && !os.IsNotExist(err) {
			slog.Error("params_file_cleanup_failed", "path", paramsFile, "error", err)
		}
	}
}

// Loader builds the App for the resume entry point. release frees what it opened.
type Loader func(ctx context.Context) (a *App, release func(), err error)

// ResumeWith loads the App and resumes. When loading fails the resume task is
// removed through trigger so it does not fire on every later boot; the token is
// kept for a manual `edge-resume <token-path>`.
func ResumeWith(ctx context.Context, trigger host.BootTrigger, tokenArg string, load Loader) error {
	a, release, err := load(ctx)
	if err != nil {
		slog.Error("resume_setup_failed", "error", err)
		if derr := trigger.Delete(context.WithoutCancel(ctx), host.DefaultTaskName); derr != nil {
			slog.Error("resume_task_cleanup_failed", "error", derr)
		}
		return err
	}
	defer release()
	return a.Resume(ctx, tokenArg)
}

// Resume is the second phase, run by the boot trigger
func (a *App) Resume(ctx context.Context, tokenArg string) error {
	path, err := continuation.Locate(a.Config.Path(a.Config.TokenPath), tokenArg)
	if err != nil {
		// Nothing to resume; the trigger must still not fire again
		if derr := a.Trigger.Delete(context.WithoutCancel(ctx), a.resumeTask().Name); derr != nil {
			slog.Error("resume_task_cleanup_failed", "error", derr)
		}
		return err
	}

	resumer := &continuation.Resumer{
		Trigger:  a.Trigger,
		TaskName: a.resumeTask().Name,
		Elevated: a.Elevated,
		Attempts: a.Config.ResumeAttempts,
		Delay:    a.Config.ResumeDelay,
		Sleep:    a.Sleep,
	}

	var run *db.Run
	err = resumer.Resume(ctx, path, func(ctx context.Context, tok continuation.Token) error {
		if run == nil {
			regID, _ := install.RegistrationID(tok.DeviceName)
			run = &db.Run{DeviceName: tok.DeviceName, RegistrationID: regID, Phase: db.PhaseResume}
			a.recordStart(ctx, run)
		}
		return a.sequence(ctx, tok.DeviceName, run.ID)
	})

	if run != nil {
		status := db.StatusSucceeded
		if err != nil {
			status = db.StatusFailed
		}
		a.recordEnd(ctx, run, status, err)
	}
	return err
}

func (a *App) recordStart(ctx context.Context, run *db.Run) {
	if a.Ledger == nil {
		return
	}
	if err := a.Ledger.Create(ctx, run); err != nil {
		slog.Warn("ledger_create_failed", "error", err)
	}
}

func (a *App) recordEnd(ctx context.Context, run *db.Run, status string, cause error) {
	if a.Ledger == nil || run.ID == "" {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := a.Ledger.UpdateStatus(context.WithoutCancel(ctx), run.ID, status, msg); err != nil {
		slog.Warn("ledger_update_failed", "run_id", run.ID, "error", err)
	}
}
