package edge

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/runner"
)

const (
	// PrerequisiteScript enables the virtualization feature
	PrerequisiteScript = "CheckAndEnableHyperV.ps1"

	// ExitRestartRequired is the exit code meaning the change needs a reboot
	ExitRestartRequired = 3010
)

// EnableResult is the outcome of enabling the prerequisite
type EnableResult struct {
	RestartRequired bool
}

// Prerequisite checks and enables the reboot-gated host feature
type Prerequisite struct {
	exec      runner.Executor
	shell     Shell
	scriptDir string
	feature   string
}

// NewPrerequisite creates the virtualization prerequisite
func NewPrerequisite(exec runner.Executor, shell Shell, scriptDir string) *Prerequisite {
	return &Prerequisite{exec: exec, shell: shell, scriptDir: scriptDir, feature: "Microsoft-Hyper-V"}
}

// Satisfied reports whether the feature is already enabled
func (p *Prerequisite) Satisfied(ctx context.Context) (bool, error) {
	out, err := runner.Output(ctx, p.exec, p.shell.Script(
		"(Get-WindowsOptionalFeature -Online -FeatureName "+quote(p.feature)+").State"))
	if err != nil {
		return false, errors.Wrap(err, "failed to query prerequisite")
	}
	enabled := strings.EqualFold(strings.TrimSpace(out), "Enabled")
	slog.Info("prerequisite_checked", "feature", p.feature, "enabled", enabled)
	return enabled, nil
}

// Enable runs the privileged enabling script
func (p *Prerequisite) Enable(ctx context.Context) (EnableResult, error) {
	slog.Info("prerequisite_enable", "feature", p.feature)

	res, err := p.exec.Execute(ctx, p.shell.File(filepath.Join(p.scriptDir, PrerequisiteScript)))
	var ce *errors.CommandError
	if errors.As(err, &ce) && ce.ExitCode == ExitRestartRequired {
		slog.Info("prerequisite_restart_required", "feature", p.feature)
		return EnableResult{RestartRequired: true}, nil
	}
	if err != nil {
		return EnableResult{}, errors.Wrap(err, "failed to enable prerequisite")
	}
	if res != nil && res.ExitCode == ExitRestartRequired {
		return EnableResult{RestartRequired: true}, nil
	}

	slog.Info("prerequisite_enabled", "feature", p.feature)
	return EnableResult{}, nil
}
