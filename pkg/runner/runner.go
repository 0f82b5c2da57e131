// Package runner executes external commands with streamed output capture,
// timeouts and cooperative cancellation.
//
// Commands run with the privileges of the calling process; callers verify
// elevation before any command is executed.
package runner

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/edgeprov/edge-installer/pkg/errors"
)

// pipeCloseDelay bounds how long Wait waits for output pipes held open by
// descendants after the command itself has exited.
const pipeCloseDelay = 2 * time.Second

// Stream identifies an output stream.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Command describes one external invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration

	// Redact hides the arguments from logs.
	Redact bool
}

func (c Command) String() string {
	if c.Redact || len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is the outcome of one invocation. Stdout is trimmed.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
}

// Executor runs commands.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (*Result, error)
}

// LineFunc receives every output line as it arrives.
type LineFunc func(stream Stream, line string)

// Runner is the process-backed Executor.
type Runner struct {
	// DefaultTimeout applies when a Command carries no timeout. Zero means none.
	DefaultTimeout time.Duration
	OnLine         LineFunc
}

var _ Executor = (*Runner)(nil)

// New creates a Runner that logs each output line at debug level.
func New(defaultTimeout time.Duration) *Runner {
	return &Runner{
		DefaultTimeout: defaultTimeout,
		OnLine: func(stream Stream, line string) {
			slog.Debug("command_output", "stream", string(stream), "line", line)
		},
	}
}

// Execute runs the command until it exits, its timeout elapses or ctx is cancelled.
//
// A non-zero exit returns *errors.CommandError. Timeout or cancellation kills the
// process tree and returns *errors.TimeoutError carrying the output captured so far.
// The Result is returned alongside either error.
func (r *Runner) Execute(ctx context.Context, c Command) (*Result, error) {
	if c.Name == "" {
		return nil, errors.New("runner: empty command name")
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = r.DefaultTimeout
	}
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	stdout := &lineWriter{stream: Stdout, onLine: r.OnLine}
	stderr := &lineWriter{stream: Stderr, onLine: r.OnLine}

	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = pipeCloseDelay
	configureProcess(cmd)

	slog.Info("command_started", "command", c.String(), "timeout", timeout)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		slog.Error("command_start_failed", "command", c.Name, "error", err)
		return nil, errors.Wrap(err, "failed to start "+c.Name)
	}

	stop := context.AfterFunc(runCtx, func() {
		if err := killProcess(cmd); err != nil {
			slog.Warn("command_kill_failed", "command", c.Name, "error", err)
		}
	})
	defer stop()

	waitErr := cmd.Wait()
	stdout.flush()
	stderr.flush()
	elapsed := time.Since(start)

	if errors.Is(waitErr, exec.ErrWaitDelay) && runCtx.Err() == nil {
		// The command succeeded; a descendant kept its output open
		slog.Warn("command_output_detached", "command", c.Name, "elapsed", elapsed)
		waitErr = nil
	}

	res := &Result{
		ExitCode: exitCode(cmd),
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   stderr.String(),
		Elapsed:  elapsed,
	}

	if runErr := runCtx.Err(); runErr != nil && waitErr != nil {
		cause := runErr
		if ctx.Err() != nil {
			cause = ctx.Err()
		}
		slog.Error("command_terminated", "command", c.Name, "elapsed", elapsed, "cause", cause)
		return res, &errors.TimeoutError{
			Command: c.Name,
			Elapsed: elapsed,
			Stdout:  res.Stdout,
			Stderr:  res.Stderr,
			Cause:   cause,
		}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			slog.Error("command_failed", "command", c.Name, "exit_code", res.ExitCode, "elapsed", elapsed)
			return res, &errors.CommandError{
				Command:  c.Name,
				ExitCode: res.ExitCode,
				Stderr:   strings.TrimSpace(res.Stderr),
			}
		}
		return res, errors.Wrap(waitErr, "failed waiting for "+c.Name)
	}

	slog.Info("command_completed", "command", c.Name, "elapsed", elapsed)
	return res, nil
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// lineWriter accumulates output as it arrives and reports each complete line.
type lineWriter struct {
	stream Stream
	onLine LineFunc

	mu      sync.Mutex
	all     strings.Builder
	partial []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.all.Write(p)
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.emit(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

// flush reports a trailing line without a newline
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.emit(string(w.partial))
		w.partial = nil
	}
}

func (w *lineWriter) emit(line string) {
	if w.onLine != nil {
		w.onLine(w.stream, strings.TrimRight(line, "\r"))
	}
}

func (w *lineWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.all.String()
}

// Output runs cmd and returns its trimmed standard output.
func Output(ctx context.Context, e Executor, cmd Command) (string, error) {
	res, err := e.Execute(ctx, cmd)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}
