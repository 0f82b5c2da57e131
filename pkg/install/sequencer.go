// Package install drives the installation workflow: an ordered list of stages,
// each optionally paired with a compensating action, executed strictly in sequence.
package install

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/rollback"
)

// ErrNothingToDo is returned by a forward action that completed without changing the host.
// The stage's flag is left unset and no progress is reported.
var ErrNothingToDo = errors.New("nothing to do")

// Stage describes one unit of the workflow.
type Stage struct {
	Name     string
	Position int

	// Flag is set after Forward succeeds. Empty for stages with nothing to undo.
	Flag Flag

	Progress int
	Label    string

	Skip       func(ic *Context) bool
	Forward    func(ctx context.Context, ic *Context) error
	Compensate func(ctx context.Context, ic *Context) error

	// ManualNote is reported on rollback when the stage has a flag but no Compensate.
	ManualNote string
}

// Observer receives progress reports.
type Observer interface {
	Progress(percent int, label string)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(percent int, label string)

func (f ObserverFunc) Progress(percent int, label string) { f(percent, label) }

// Observers fans progress out to several observers.
type Observers []Observer

func (o Observers) Progress(percent int, label string) {
	for _, obs := range o {
		obs.Progress(percent, label)
	}
}

// Engine drives a run through its stages in order.
type Engine interface {
	Drive(ctx context.Context, run *Run) error
}

// LinearEngine executes the stages in a plain in-process loop.
type LinearEngine struct{}

func (LinearEngine) Drive(ctx context.Context, run *Run) error {
	for i := range run.Stages() {
		if err := run.Execute(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

// Run is one pass over the workflow.
type Run struct {
	stages   []Stage
	ic       *Context
	state    *State
	observer Observer
}

// NewRun prepares a run over stages. A nil observer discards progress.
func NewRun(stages []Stage, ic *Context, observer Observer) *Run {
	if observer == nil {
		observer = ObserverFunc(func(int, string) {})
	}
	run := &Run{stages: stages, ic: ic, state: NewState(ic.RegistrationID), observer: observer}
	ic.state = run.state
	return run
}

// Stages returns the stage list in order.
func (r *Run) Stages() []Stage { return r.stages }

// State returns the run's in-memory state.
func (r *Run) State() *State { return r.state }

// Index returns the position of the named stage, or -1.
func (r *Run) Index(name string) int {
	for i, s := range r.stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Execute runs stage i forward, then sets its flag and reports progress.
func (r *Run) Execute(ctx context.Context, i int) error {
	stage := r.stages[i]
	r.state.enter(i, stage.Name)

	if err := ctx.Err(); err != nil {
		return err
	}
	if stage.Skip != nil && stage.Skip(r.ic) {
		slog.Info("stage_skipped", "stage", stage.Name, "variant", r.ic.Variant.String())
		return nil
	}

	slog.Info("stage_started", "stage", stage.Name, "position", stage.Position)
	start := time.Now()
	err := stage.Forward(ctx, r.ic)
	if errors.Is(err, ErrNothingToDo) {
		slog.Info("stage_not_needed", "stage", stage.Name)
		return nil
	}
	if err != nil {
		slog.Error("stage_failed", "stage", stage.Name, "elapsed", time.Since(start), "error", err)
		return errors.Wrap(err, stage.Name)
	}

	r.state.Set(stage.Flag)
	slog.Info("stage_completed", "stage", stage.Name, "elapsed", time.Since(start))
	if stage.Label != "" {
		r.observer.Progress(stage.Progress, stage.Label)
	}
	return nil
}

// KeyDeriver turns a registration id into the device secret.
type KeyDeriver interface {
	Derive(ctx context.Context, registrationID string) (string, error)
}

// Input identifies the device to install.
type Input struct {
	DeviceName string
}

// Outcome describes a successful run.
type Outcome struct {
	RegistrationID string
	Address        string
	Flags          map[Flag]bool
}

// Sequencer runs the installation workflow and rolls back on failure.
type Sequencer struct {
	Variant  Variant
	ScopeID  string
	Keys     KeyDeriver
	Stages   []Stage
	Engine   Engine
	Rollback *rollback.Engine
	Observer Observer
}

// Run executes every stage for the given device. On failure completed stages are
// rolled back and a *errors.FatalError is returned.
func (s *Sequencer) Run(ctx context.Context, in Input) (*Outcome, error) {
	regID, err := RegistrationID(in.DeviceName)
	if err != nil {
		return nil, err
	}

	key, err := s.Keys.Derive(ctx, regID)
	if err != nil {
		return nil, errors.Precondition("enrollment-key", err)
	}

	ic := &Context{
		Variant:        s.Variant,
		DeviceName:     in.DeviceName,
		RegistrationID: regID,
		ScopeID:        s.ScopeID,
		DerivedKey:     key,
		Network:        DefaultNetwork(),
	}
	return s.RunContext(ctx, ic)
}

// RunContext executes the workflow with a prepared context.
func (s *Sequencer) RunContext(ctx context.Context, ic *Context) (*Outcome, error) {
	engine := s.Engine
	if engine == nil {
		engine = LinearEngine{}
	}
	observer := s.Observer
	if observer == nil {
		observer = ObserverFunc(func(int, string) {})
	}
	rb := s.Rollback
	if rb == nil {
		rb = rollback.New()
	}

	run := NewRun(s.Stages, ic, observer)

	slog.Info("installation_started", "registration_id", ic.RegistrationID, "variant", ic.Variant.String(), "stages", len(s.Stages))
	observer.Progress(0, "Starting installation")

	if err := engine.Drive(ctx, run); err != nil {
		_, stage := run.state.Stage()
		report := rb.Rollback(ctx, steps(run))
		slog.Error("installation_failed", "stage", stage, "error", err, "compensated", report.Compensated)
		return nil, &errors.FatalError{Stage: stage, Cause: err, Notes: report.Notes}
	}

	slog.Info("installation_succeeded", "registration_id", ic.RegistrationID, "address", ic.Address)
	return &Outcome{
		RegistrationID: ic.RegistrationID,
		Address:        ic.Address,
		Flags:          run.state.Flags(),
	}, nil
}

// steps maps the run's stages onto rollback steps using the current flags.
func steps(run *Run) []rollback.Step {
	out := make([]rollback.Step, 0, len(run.stages))
	for _, stage := range run.stages {
		if stage.Flag == "" {
			continue
		}
		step := rollback.Step{
			Name:       stage.Name,
			Completed:  run.state.Completed(stage.Flag),
			ManualNote: stage.ManualNote,
		}
		if stage.Compensate != nil {
			compensate := stage.Compensate
			step.Compensate = func(ctx context.Context) error { return compensate(ctx, run.ic) }
		}
		out = append(out, step)
	}
	return out
}
