package fsm

import "github.com/edgeprov/edge-installer/pkg/install"

// RunRequest is the FSM input
type RunRequest struct {
	RunID          string
	RegistrationID string
}

// RunResponse is the FSM output (accumulated across transitions)
type RunResponse struct {
	Completed    []string
	Status       string
	ErrorMessage string
}

// State names
const (
	StateVMSwitch        = install.StageVMSwitch
	StateInstallRuntime  = install.StageInstallRuntime
	StateConnectivity    = install.StageConnectivity
	StateProvision       = install.StageProvision
	StateVerifyWorkloads = install.StageVerifyWorkloads
	StateFinalize        = install.StageFinalize
	StateFailed          = "failed"
)

// Status values carried in RunResponse
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)
