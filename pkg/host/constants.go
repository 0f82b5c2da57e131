package host

import "time"

const (
	// DefaultTaskName is the boot trigger registered before a restart
	DefaultTaskName = "EdgeInstallerResumeTask"
	// DefaultBootDelay is how long after boot the resume entry point starts
	DefaultBootDelay = 30 * time.Second
	// SystemdUnitDir holds the generated oneshot units on Linux
	SystemdUnitDir = "/etc/systemd/system"
)
