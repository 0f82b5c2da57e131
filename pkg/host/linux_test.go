//go:build linux

package host

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExec struct {
	calls []string
	fail  map[string]error
}

func (r *recordingExec) Execute(_ context.Context, c runner.Command) (*runner.Result, error) {
	line := strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
	r.calls = append(r.calls, line)
	if err, ok := r.fail[line]; ok {
		return &runner.Result{ExitCode: 1}, err
	}
	return &runner.Result{}, nil
}

func testTask() Task {
	return Task{
		Name:        "EdgeInstallerResumeTask",
		Description: "Resume edge runtime installation",
		Command:     "/usr/local/bin/edge-resume",
		Args:        []string{"--token", "/var/lib/edge/continuation.yaml"},
		WorkDir:     "/var/lib/edge",
		Delay:       30 * time.Second,
	}
}

func TestRenderUnit(t *testing.T) {
	unit := renderUnit(testTask())

	assert.Contains(t, unit, "Type=oneshot")
	assert.Contains(t, unit, "ExecStartPre=/bin/sleep 30")
	assert.Contains(t, unit, `ExecStart="/usr/local/bin/edge-resume" "--token" "/var/lib/edge/continuation.yaml"`)
	assert.Contains(t, unit, "WorkingDirectory=/var/lib/edge")
	assert.Contains(t, unit, "WantedBy=multi-user.target")
}

func TestRenderUnitNoDelay(t *testing.T) {
	task := testTask()
	task.Delay = 0
	assert.NotContains(t, renderUnit(task), "ExecStartPre")
}

func TestSystemdTriggerLifecycle(t *testing.T) {
	ctx := context.Background()
	exec := &recordingExec{}
	trigger := NewSystemdTrigger(exec, t.TempDir())

	exists, err := trigger.Exists(ctx, "EdgeInstallerResumeTask")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, trigger.Register(ctx, testTask()))
	exists, err = trigger.Exists(ctx, "EdgeInstallerResumeTask")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, trigger.Delete(ctx, "EdgeInstallerResumeTask"))
	exists, err = trigger.Exists(ctx, "EdgeInstallerResumeTask")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Equal(t, []string{
		"systemctl daemon-reload",
		"systemctl enable EdgeInstallerResumeTask.service",
		"systemctl disable EdgeInstallerResumeTask.service",
		"systemctl daemon-reload",
	}, exec.calls)
}

func TestSystemdTriggerRegisterReplaces(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	trigger := NewSystemdTrigger(&recordingExec{}, dir)

	require.NoError(t, trigger.Register(ctx, testTask()))
	task := testTask()
	task.Delay = time.Minute
	require.NoError(t, trigger.Register(ctx, task))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, "EdgeInstallerResumeTask.service"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ExecStartPre=/bin/sleep 60")
}

func TestSystemdTriggerDeleteMissing(t *testing.T) {
	exec := &recordingExec{}
	trigger := NewSystemdTrigger(exec, t.TempDir())

	require.NoError(t, trigger.Delete(context.Background(), "missing"))
	assert.Empty(t, exec.calls)
}

func TestSystemdTriggerEnableFailureRemovesUnit(t *testing.T) {
	dir := t.TempDir()
	exec := &recordingExec{fail: map[string]error{
		"systemctl enable EdgeInstallerResumeTask.service": &errors.CommandError{Command: "systemctl", ExitCode: 1},
	}}
	trigger := NewSystemdTrigger(exec, dir)

	err := trigger.Register(context.Background(), testTask())
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "EdgeInstallerResumeTask.service"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSystemdTriggerDeleteIgnoresDisableFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	exec := &recordingExec{fail: map[string]error{
		"systemctl disable EdgeInstallerResumeTask.service": &errors.CommandError{Command: "systemctl", ExitCode: 1},
	}}
	trigger := NewSystemdTrigger(exec, dir)

	require.NoError(t, trigger.Register(ctx, testTask()))
	require.NoError(t, trigger.Delete(ctx, "EdgeInstallerResumeTask"))

	exists, err := trigger.Exists(ctx, "EdgeInstallerResumeTask")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSystemdRestarter(t *testing.T) {
	exec := &recordingExec{}
	require.NoError(t, NewRestarter(exec).Restart(context.Background()))
	assert.Equal(t, []string{"systemctl reboot"}, exec.calls)
}

func TestFreeDiskBytes(t *testing.T) {
	free, err := FreeDiskBytes(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, free, uint64(0))
}
