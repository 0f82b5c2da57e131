//go:build windows

package host

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/runner"
)

// ScheduledTaskTrigger implements BootTrigger with the Task Scheduler
type ScheduledTaskTrigger struct {
	exec runner.Executor
}

var _ BootTrigger = (*ScheduledTaskTrigger)(nil)

// NewBootTrigger creates the Windows boot trigger
func NewBootTrigger(exec runner.Executor) BootTrigger {
	return &ScheduledTaskTrigger{exec: exec}
}

// taskDelay renders a delay in the mmmm:ss form schtasks expects
func taskDelay(seconds int) string {
	return fmt.Sprintf("%04d:%02d", seconds/60, seconds%60)
}

func taskCommand(task Task) string {
	parts := []string{`"` + task.Command + `"`}
	for _, a := range task.Args {
		parts = append(parts, `"`+a+`"`)
	}
	return strings.Join(parts, " ")
}

func (t *ScheduledTaskTrigger) Register(ctx context.Context, task Task) error {
	slog.Info("boot_trigger_register", "name", task.Name, "command", task.Command, "delay", task.Delay)

	args := []string{
		"/Create", "/F",
		"/TN", task.Name,
		"/TR", taskCommand(task),
		"/SC", "ONSTART",
		"/RU", "SYSTEM",
		"/RL", "HIGHEST",
	}
	if task.Delay > 0 {
		args = append(args, "/DELAY", taskDelay(int(task.Delay.Seconds())))
	}

	if _, err := t.exec.Execute(ctx, runner.Command{Name: "schtasks.exe", Args: args}); err != nil {
		slog.Error("boot_trigger_register_failed", "name", task.Name, "error", err)
		return errors.Wrap(err, "failed to register scheduled task")
	}

	slog.Info("boot_trigger_registered", "name", task.Name)
	return nil
}

func (t *ScheduledTaskTrigger) Delete(ctx context.Context, name string) error {
	slog.Info("boot_trigger_delete", "name", name)

	exists, err := t.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		slog.Info("boot_trigger_not_found", "name", name)
		return nil
	}

	if _, err := t.exec.Execute(ctx, runner.Command{Name: "schtasks.exe", Args: []string{"/Delete", "/TN", name, "/F"}}); err != nil {
		return errors.Wrap(err, "failed to delete scheduled task")
	}

	slog.Info("boot_trigger_deleted", "name", name)
	return nil
}

func (t *ScheduledTaskTrigger) Exists(ctx context.Context, name string) (bool, error) {
	_, err := t.exec.Execute(ctx, runner.Command{Name: "schtasks.exe", Args: []string{"/Query", "/TN", name}})
	if err == nil {
		return true, nil
	}
	var ce *errors.CommandError
	if errors.As(err, &ce) {
		return false, nil
	}
	return false, errors.Wrap(err, "failed to query scheduled task")
}

// ShutdownRestarter reboots through shutdown.exe
type ShutdownRestarter struct {
	exec runner.Executor
}

// NewRestarter creates the Windows restarter
func NewRestarter(exec runner.Executor) Restarter {
	return &ShutdownRestarter{exec: exec}
}

func (r *ShutdownRestarter) Restart(ctx context.Context) error {
	slog.Warn("host_restart")
	if _, err := r.exec.Execute(ctx, runner.Command{Name: "shutdown.exe", Args: []string{"/r", "/t", "0"}}); err != nil {
		return errors.Wrap(err, "failed to restart host")
	}
	return nil
}
