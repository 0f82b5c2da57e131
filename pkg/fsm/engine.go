package fsm

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/install"
	"github.com/google/uuid"
	"github.com/superfly/fsm"
)

const shutdownTimeout = 10 * time.Second

// Engine drives install runs through the FSM manager. The journal lives in a
// per-run directory under root that is removed when the run ends.
type Engine struct {
	root string
}

var _ install.Engine = (*Engine)(nil)

// NewEngine creates an engine journaling under root.
func NewEngine(root string) *Engine {
	return &Engine{root: root}
}

// Drive executes every stage of run as an FSM transition.
func (e *Engine) Drive(ctx context.Context, run *install.Run) error {
	if err := os.MkdirAll(e.root, 0755); err != nil {
		return errors.Wrap(err, "failed to create journal root")
	}
	dir, err := os.MkdirTemp(e.root, "run-")
	if err != nil {
		return errors.Wrap(err, "failed to create journal directory")
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("fsm_journal_cleanup_failed", "dir", dir, "error", err)
		}
	}()

	manager, err := fsm.New(fsm.Config{DBPath: dir})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(shutdownTimeout)

	machine := NewMachine(ctx, run)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	req := &RunRequest{RunID: runID, RegistrationID: run.State().RegistrationID()}
	resp := &RunResponse{}

	version, err := start(ctx, runID, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}
	slog.Info("fsm_started", "run_id", runID, "version", version)

	waitErr := manager.Wait(ctx, version)
	if failure := machine.Failure(); failure != nil {
		return failure
	}
	if waitErr != nil {
		return errors.Wrap(waitErr, "FSM execution failed")
	}

	slog.Info("fsm_completed", "run_id", runID, "status", resp.Status, "completed", len(resp.Completed))
	return nil
}
