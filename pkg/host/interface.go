// Package host wraps the platform facilities the installer depends on:
// privilege, one-shot boot triggers, machine restart and disk space.
package host

import (
	"context"
	"time"
)

// Task is a command to run once after the next boot.
type Task struct {
	Name        string
	Description string
	Command     string
	Args        []string
	WorkDir     string
	Delay       time.Duration
}

// BootTrigger manages one-shot boot tasks
type BootTrigger interface {
	// Register creates or replaces the task
	Register(ctx context.Context, task Task) error

	// Delete removes the task. Deleting a missing task is not an error.
	Delete(ctx context.Context, name string) error

	// Exists reports whether the task is registered
	Exists(ctx context.Context, name string) (bool, error)
}

// Restarter reboots the machine
type Restarter interface {
	Restart(ctx context.Context) error
}
