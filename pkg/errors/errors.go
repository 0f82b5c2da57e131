// Package errors provides error wrapping utilities and the failure types
// surfaced by the installer.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// FatalMessage is shown to the operator whenever an installation stage fails.
const FatalMessage = "The installation encountered an error and could not be completed successfully. " +
	"A partial installation has occurred. Please uninstall 'IoT Edge Installer' and try the installation again."

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// New, Is and As mirror the standard library so callers only import one errors package.
func New(text string) error { return stderrors.New(text) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// PreconditionError is raised before any host mutation: privilege, platform,
// configuration, resources or connectivity.
type PreconditionError struct {
	Check string
	Err   error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition %q failed: %v", e.Check, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// Precondition builds a PreconditionError, returning nil for a nil err.
func Precondition(check string, err error) error {
	if err == nil {
		return nil
	}
	return &PreconditionError{Check: check, Err: err}
}

// CommandError is a non-zero exit from an external command.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %q exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
}

// TimeoutError reports a command terminated by its timeout or by cancellation.
// Stdout and Stderr hold whatever was captured before termination.
type TimeoutError struct {
	Command string
	Elapsed time.Duration
	Stdout  string
	Stderr  string
	Cause   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q terminated after %s: %v", e.Command, e.Elapsed.Round(time.Millisecond), e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// VerificationError is a polled condition that never held within its attempt budget.
type VerificationError struct {
	Condition string
	Attempts  int
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s not satisfied after %d attempts", e.Condition, e.Attempts)
}

// RollbackError is a compensating action that failed. It is logged, never fatal.
type RollbackError struct {
	Stage string
	Err   error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of %s failed: %v", e.Stage, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// FatalError is returned by a failed installation run after rollback has completed.
// Its message is the consolidated operator message plus any manual remediation notes.
type FatalError struct {
	Stage string
	Cause error
	Notes []string
}

func (e *FatalError) Error() string {
	var b strings.Builder
	b.WriteString(FatalMessage)
	if e.Stage != "" {
		fmt.Fprintf(&b, "\nFailed stage: %s", e.Stage)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, "\nCause: %v", e.Cause)
	}
	for _, note := range e.Notes {
		b.WriteString("\n")
		b.WriteString(note)
	}
	return b.String()
}

func (e *FatalError) Unwrap() error { return e.Cause }

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
