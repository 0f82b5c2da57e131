// Package fsm runs the installation stages as a superfly/fsm transition chain.
// Each transition executes one stage of an install.Run; a failed stage aborts the
// machine and the sequencer performs rollback once the machine has stopped.
package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/install"
	"github.com/superfly/fsm"
)

// Machine binds one install.Run to the FSM handlers
type Machine struct {
	run *install.Run

	// ctx carries the caller's cancellation into stage execution
	ctx context.Context

	mu      sync.Mutex
	failure error
}

// NewMachine creates a machine for one run
func NewMachine(ctx context.Context, run *install.Run) *Machine {
	return &Machine{run: run, ctx: ctx}
}

// Register registers the installation FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[RunRequest, RunResponse], fsm.Resume, error) {
	for _, name := range install.StageNames {
		if m.run.Index(name) < 0 {
			return nil, nil, fmt.Errorf("stage %q missing from run", name)
		}
	}

	start, resume, err := fsm.Register[RunRequest, RunResponse](manager, "edge-install").
		Start(StateVMSwitch, m.handler(StateVMSwitch)).
		To(StateInstallRuntime, m.handler(StateInstallRuntime)).
		To(StateConnectivity, m.handler(StateConnectivity)).
		To(StateProvision, m.handler(StateProvision)).
		To(StateVerifyWorkloads, m.handler(StateVerifyWorkloads)).
		To(StateFinalize, m.handler(StateFinalize)).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// Failure returns the stage error that aborted the machine, if any
func (m *Machine) Failure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

func (m *Machine) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure == nil {
		m.failure = err
	}
}

// handler executes the named stage
func (m *Machine) handler(state string) func(context.Context, *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	return func(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
		slog.Info("fsm_state_enter", "state", state, "run_id", req.Msg.RunID)

		resp := req.W.Msg
		if resp == nil {
			resp = &RunResponse{}
		}

		if err := m.Failure(); err != nil {
			return nil, fsm.Abort(err)
		}

		// Stage side effects are not idempotent; a redelivered transition must not run again
		if retryCount := fsm.RetryFromContext(ctx); retryCount > 0 {
			err := fmt.Errorf("stage %s redelivered (retry %d)", state, retryCount)
			slog.Error("fsm_stage_redelivered", "state", state, "retry", retryCount)
			m.fail(err)
			return nil, fsm.Abort(err)
		}

		if err := m.run.Execute(m.ctx, m.run.Index(state)); err != nil {
			m.fail(err)
			resp.Status = StatusFailed
			resp.ErrorMessage = err.Error()
			return nil, fsm.Abort(err)
		}

		resp.Completed = append(resp.Completed, state)
		resp.Status = StatusRunning
		if state == StateFinalize {
			resp.Status = StatusSucceeded
		}

		slog.Info("fsm_state_complete", "state", state, "run_id", req.Msg.RunID)
		return fsm.NewResponse(resp), nil
	}
}
