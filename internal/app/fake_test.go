package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgeprov/edge-installer/pkg/edge"
	"github.com/edgeprov/edge-installer/pkg/host"
	"github.com/edgeprov/edge-installer/pkg/install"
)

type fakeEnv struct {
	mu    sync.Mutex
	calls []string

	installed    bool
	provisionErr error
	variant      install.Variant
}

var _ Environment = (*fakeEnv)(nil)

func (f *fakeEnv) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeEnv) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeEnv) CreateSwitch(context.Context) (string, error) {
	f.record("create_switch")
	return "VMSwitchName: edge-switch, EFLOWVMIP: 172.20.1.2, GatewayIP: 172.20.1.1, EFLOWVMIPV4PrefixLength: 24", nil
}

func (f *fakeEnv) RemoveSwitch(_ context.Context, name string) error {
	f.record("remove_switch")
	return nil
}

func (f *fakeEnv) InstallRuntime(context.Context, string) error {
	f.record("install_runtime")
	f.installed = true
	return nil
}

func (f *fakeEnv) RuntimeInstalled(context.Context) (bool, error) {
	return f.installed, nil
}

func (f *fakeEnv) UninstallRuntime(context.Context) error {
	f.record("uninstall_runtime")
	f.installed = false
	return nil
}

func (f *fakeEnv) Deploy(_ context.Context, v install.Variant, _ install.Network) error {
	f.record("deploy %s", v)
	return nil
}

func (f *fakeEnv) ProbeConnectivity(context.Context) (string, error) {
	return "1 packets transmitted, 1 received, 0% packet loss", nil
}

func (f *fakeEnv) Endpoint(context.Context) (string, error) { return "edge-vm", nil }

func (f *fakeEnv) SetDNSServers(context.Context, string, []string) error { return nil }

func (f *fakeEnv) StopVM(context.Context) error { return nil }

func (f *fakeEnv) StartVM(context.Context) error { return nil }

func (f *fakeEnv) Provision(context.Context, string, string, string) error {
	f.record("provision")
	return f.provisionErr
}

func (f *fakeEnv) ListWorkloads(context.Context) (string, error) {
	return allRunning, nil
}

func (f *fakeEnv) SystemLogs(context.Context) (string, error) { return "", nil }

func (f *fakeEnv) AllowICMP(context.Context) error { return nil }

func (f *fakeEnv) VMAddress(context.Context) (string, error) { return "172.20.1.2", nil }

func (f *fakeEnv) DetectVariant(context.Context) (install.Variant, error) {
	f.record("detect_variant")
	return f.variant, nil
}

const allRunning = `NAME             STATUS           DESCRIPTION      CONFIG
edgeAgent        running          Up 2 minutes     mcr.microsoft.com/azureiotedge-agent:1.4
edgeHub          running          Up 1 minutes     mcr.microsoft.com/azureiotedge-hub:1.4`

type fakePrereq struct {
	satisfied bool
	restart   bool
}

func (p *fakePrereq) Satisfied(context.Context) (bool, error) { return p.satisfied, nil }

func (p *fakePrereq) Enable(context.Context) (edge.EnableResult, error) {
	return edge.EnableResult{RestartRequired: p.restart}, nil
}

type fakeTrigger struct {
	tasks   map[string]host.Task
	deleted []string
}

func newFakeTrigger() *fakeTrigger {
	return &fakeTrigger{tasks: map[string]host.Task{}}
}

func (t *fakeTrigger) Register(_ context.Context, task host.Task) error {
	t.tasks[task.Name] = task
	return nil
}

func (t *fakeTrigger) Delete(_ context.Context, name string) error {
	t.deleted = append(t.deleted, name)
	delete(t.tasks, name)
	return nil
}

func (t *fakeTrigger) Exists(_ context.Context, name string) (bool, error) {
	_, ok := t.tasks[name]
	return ok, nil
}

type fakeRestarter struct{ restarts int }

func (r *fakeRestarter) Restart(context.Context) error {
	r.restarts++
	return nil
}

type fakePackage struct{}

func (fakePackage) Fetch(context.Context) (string, error) { return "runtime.msi", nil }

func (fakePackage) Cleanup(string) error { return nil }

type fakeKeys struct{}

func (fakeKeys) Derive(_ context.Context, regID string) (string, error) {
	return "derived-" + regID, nil
}

func noSleep(context.Context, time.Duration) error { return nil }
