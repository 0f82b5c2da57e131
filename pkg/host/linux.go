//go:build linux

package host

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/runner"
)

// SystemdTrigger implements BootTrigger with a oneshot systemd unit
type SystemdTrigger struct {
	exec    runner.Executor
	unitDir string
}

var _ BootTrigger = (*SystemdTrigger)(nil)

// NewBootTrigger creates the Linux boot trigger
func NewBootTrigger(exec runner.Executor) BootTrigger {
	return &SystemdTrigger{exec: exec, unitDir: SystemdUnitDir}
}

// NewSystemdTrigger creates a trigger writing units into unitDir
func NewSystemdTrigger(exec runner.Executor, unitDir string) *SystemdTrigger {
	return &SystemdTrigger{exec: exec, unitDir: unitDir}
}

func unitName(name string) string {
	return name + ".service"
}

func (t *SystemdTrigger) unitPath(name string) string {
	return filepath.Join(t.unitDir, unitName(name))
}

// renderUnit builds the unit file content for task
func renderUnit(task Task) string {
	var b strings.Builder
	b.WriteString("[Unit]\n")
	fmt.Fprintf(&b, "Description=%s\n", task.Description)
	b.WriteString("After=network-online.target\n")
	b.WriteString("Wants=network-online.target\n\n")
	b.WriteString("[Service]\n")
	b.WriteString("Type=oneshot\n")
	if task.Delay > 0 {
		fmt.Fprintf(&b, "ExecStartPre=/bin/sleep %d\n", int(task.Delay.Seconds()))
	}
	exec := []string{strconv.Quote(task.Command)}
	for _, a := range task.Args {
		exec = append(exec, strconv.Quote(a))
	}
	fmt.Fprintf(&b, "ExecStart=%s\n", strings.Join(exec, " "))
	if task.WorkDir != "" {
		fmt.Fprintf(&b, "WorkingDirectory=%s\n", task.WorkDir)
	}
	b.WriteString("\n[Install]\n")
	b.WriteString("WantedBy=multi-user.target\n")
	return b.String()
}

func (t *SystemdTrigger) systemctl(ctx context.Context, args ...string) error {
	_, err := t.exec.Execute(ctx, runner.Command{Name: "systemctl", Args: args})
	return err
}

func (t *SystemdTrigger) Register(ctx context.Context, task Task) error {
	slog.Info("boot_trigger_register", "name", task.Name, "command", task.Command, "delay", task.Delay)

	path := t.unitPath(task.Name)
	if err := os.WriteFile(path, []byte(renderUnit(task)), 0644); err != nil {
		slog.Error("boot_trigger_write_failed", "path", path, "error", err)
		return errors.Wrap(err, "failed to write unit file")
	}

	if err := t.systemctl(ctx, "daemon-reload"); err != nil {
		os.Remove(path)
		return errors.Wrap(err, "failed to reload systemd")
	}
	if err := t.systemctl(ctx, "enable", unitName(task.Name)); err != nil {
		os.Remove(path)
		return errors.Wrap(err, "failed to enable boot trigger")
	}

	slog.Info("boot_trigger_registered", "name", task.Name, "unit", path)
	return nil
}

func (t *SystemdTrigger) Delete(ctx context.Context, name string) error {
	slog.Info("boot_trigger_delete", "name", name)

	path := t.unitPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Info("boot_trigger_not_found", "name", name)
		return nil
	}

	// Disable failures are ignored - the unit is removed regardless
	if err := t.systemctl(ctx, "disable", unitName(name)); err != nil {
		slog.Warn("boot_trigger_disable_failed", "name", name, "error", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove unit file")
	}
	if err := t.systemctl(ctx, "daemon-reload"); err != nil {
		slog.Warn("systemd_reload_failed", "error", err)
	}

	slog.Info("boot_trigger_deleted", "name", name)
	return nil
}

func (t *SystemdTrigger) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(t.unitPath(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to stat unit file")
	}
	return true, nil
}

// SystemdRestarter reboots through systemctl
type SystemdRestarter struct {
	exec runner.Executor
}

// NewRestarter creates the Linux restarter
func NewRestarter(exec runner.Executor) Restarter {
	return &SystemdRestarter{exec: exec}
}

func (r *SystemdRestarter) Restart(ctx context.Context) error {
	slog.Warn("host_restart")
	if _, err := r.exec.Execute(ctx, runner.Command{Name: "systemctl", Args: []string{"reboot"}}); err != nil {
		return errors.Wrap(err, "failed to restart host")
	}
	return nil
}
