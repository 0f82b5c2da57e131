package continuation

import (
	"context"
	"log/slog"

	"github.com/edgeprov/edge-installer/pkg/edge"
	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/host"
)

// Prerequisite is the reboot-gated host feature
type Prerequisite interface {
	Satisfied(ctx context.Context) (bool, error)
	Enable(ctx context.Context) (edge.EnableResult, error)
}

// Outcome describes how Start finished
type Outcome int

const (
	// OutcomeCompleted means the installation ran in this process
	OutcomeCompleted Outcome = iota
	// OutcomeRestartScheduled means the resume task is registered and the host is restarting
	OutcomeRestartScheduled
	// OutcomeCancelled means the operator declined the restart
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRestartScheduled:
		return "restart_scheduled"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "unknown"
}

// InstallFunc runs the stage sequence in the current process
type InstallFunc func(ctx context.Context) error

// Scheduler decides between installing now and resuming after a restart
type Scheduler struct {
	Prerequisite Prerequisite
	Trigger      host.BootTrigger
	Restarter    host.Restarter
	Tokens       *TokenStore
	Prompter     Prompter

	// Task is the resume entry point. The token path is appended to its arguments.
	Task host.Task

	// ConfirmRestart asks before restarting
	ConfirmRestart bool
}

const (
	restartTitle       = "Confirmation Required"
	restartDescription = "A required host feature must be enabled, which requires a system restart. Please save all your work before continuing."
)

// Start installs in-process when the prerequisite allows it, otherwise schedules
// a resume after restart.
func (s *Scheduler) Start(ctx context.Context, tok Token, install InstallFunc) (Outcome, error) {
	satisfied, err := s.Prerequisite.Satisfied(ctx)
	if err != nil {
		return OutcomeCompleted, err
	}
	if satisfied {
		slog.Info("prerequisite_satisfied")
		return OutcomeCompleted, install(ctx)
	}

	res, err := s.Prerequisite.Enable(ctx)
	if err != nil {
		return OutcomeCompleted, err
	}
	if !res.RestartRequired {
		slog.Info("prerequisite_enabled_without_restart")
		return OutcomeCompleted, install(ctx)
	}

	return s.scheduleRestart(ctx, tok)
}

func (s *Scheduler) scheduleRestart(ctx context.Context, tok Token) (Outcome, error) {
	if err := s.Tokens.Save(tok); err != nil {
		return OutcomeCompleted, err
	}

	task := s.Task
	task.Args = append(append([]string{}, s.Task.Args...), s.Tokens.Path)
	if err := s.Trigger.Register(ctx, task); err != nil {
		s.cleanup(ctx)
		return OutcomeCompleted, errors.Wrap(err, "failed to register resume task")
	}

	if s.ConfirmRestart {
		ok, err := s.Prompter.Confirm(ctx, restartTitle, restartDescription)
		if err != nil {
			s.cleanup(ctx)
			return OutcomeCancelled, errors.Wrap(err, "restart confirmation failed")
		}
		if !ok {
			slog.Warn("restart_declined")
			s.cleanup(ctx)
			return OutcomeCancelled, nil
		}
	}

	slog.Info("restart_scheduled", "task", task.Name, "token", s.Tokens.Path)
	if err := s.Restarter.Restart(ctx); err != nil {
		s.cleanup(ctx)
		return OutcomeCompleted, err
	}
	return OutcomeRestartScheduled, nil
}

// cleanup removes the resume task and the token
func (s *Scheduler) cleanup(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := s.Trigger.Delete(ctx, s.Task.Name); err != nil {
		slog.Error("resume_task_cleanup_failed", "task", s.Task.Name, "error", err)
	}
	if err := s.Tokens.Delete(); err != nil {
		slog.Error("continuation_token_cleanup_failed", "path", s.Tokens.Path, "error", err)
	}
}
