package continuation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/edgeprov/edge-installer/pkg/edge"
	"github.com/edgeprov/edge-installer/pkg/host"
)

type fakePrereq struct {
	satisfied  bool
	restart    bool
	enableErr  error
	enableRuns int
}

func (f *fakePrereq) Satisfied(context.Context) (bool, error) { return f.satisfied, nil }

func (f *fakePrereq) Enable(context.Context) (edge.EnableResult, error) {
	f.enableRuns++
	return edge.EnableResult{RestartRequired: f.restart}, f.enableErr
}

type fakeTrigger struct {
	mu          sync.Mutex
	tasks       map[string]host.Task
	registered  int
	registerErr error
}

func newFakeTrigger() *fakeTrigger {
	return &fakeTrigger{tasks: map[string]host.Task{}}
}

func (f *fakeTrigger) Register(_ context.Context, task host.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registered++
	f.tasks[task.Name] = task
	return nil
}

func (f *fakeTrigger) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, name)
	return nil
}

func (f *fakeTrigger) Exists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tasks[name]
	return ok, nil
}

type fakeRestarter struct {
	restarts int
	err      error
}

func (f *fakeRestarter) Restart(context.Context) error {
	f.restarts++
	return f.err
}

type fakePrompter struct {
	answer bool
	err    error
	asked  int
}

func (f *fakePrompter) Confirm(context.Context, string, string) (bool, error) {
	f.asked++
	return f.answer, f.err
}

var errInstall = errors.New("install failed")


func recordSleeps(into *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*into = append(*into, d)
		return nil
	}
}
