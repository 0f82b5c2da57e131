// Package edge drives the managed edge environment through the host shell.
package edge

import (
	"strings"

	"github.com/edgeprov/edge-installer/pkg/runner"
)

// Shell renders scripts into commands for a specific interpreter
type Shell struct {
	Path string
	Args []string
}

// NewShell picks argument conventions from the interpreter name. Both path
// separators are honoured so Windows paths are recognised on any host.
func NewShell(path string) Shell {
	base := strings.ToLower(path[strings.LastIndexAny(path, `/\`)+1:])
	if strings.HasPrefix(base, "powershell") || strings.HasPrefix(base, "pwsh") {
		return Shell{Path: path, Args: []string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass"}}
	}
	return Shell{Path: path}
}

func (s Shell) powershell() bool {
	return len(s.Args) > 0
}

// Script returns a command running an inline script
func (s Shell) Script(script string) runner.Command {
	args := append([]string{}, s.Args...)
	if s.powershell() {
		args = append(args, "-Command", script)
	} else {
		args = append(args, "-c", script)
	}
	return runner.Command{Name: s.Path, Args: args}
}

// File returns a command running a script file
func (s Shell) File(path string, extra ...string) runner.Command {
	args := append([]string{}, s.Args...)
	if s.powershell() {
		args = append(args, "-File", path)
	} else {
		args = append(args, path)
	}
	args = append(args, extra...)
	return runner.Command{Name: s.Path, Args: args}
}

// quote renders a single-quoted PowerShell literal
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
