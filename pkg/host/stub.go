//go:build !linux && !windows

package host

import (
	"context"
	"fmt"
	"runtime"

	"github.com/edgeprov/edge-installer/pkg/runner"
)

// StubTrigger is a no-op boot trigger for unsupported systems
type StubTrigger struct{}

// NewBootTrigger creates a stub trigger on unsupported systems
func NewBootTrigger(exec runner.Executor) BootTrigger {
	return &StubTrigger{}
}

func (t *StubTrigger) Register(ctx context.Context, task Task) error {
	return fmt.Errorf("boot triggers not supported on %s", runtime.GOOS)
}

func (t *StubTrigger) Delete(ctx context.Context, name string) error {
	return nil
}

func (t *StubTrigger) Exists(ctx context.Context, name string) (bool, error) {
	return false, nil
}

// StubRestarter refuses to restart on unsupported systems
type StubRestarter struct{}

// NewRestarter creates a stub restarter on unsupported systems
func NewRestarter(exec runner.Executor) Restarter {
	return &StubRestarter{}
}

func (r *StubRestarter) Restart(ctx context.Context) error {
	return fmt.Errorf("restart not supported on %s", runtime.GOOS)
}
