package install

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgeprov/edge-installer/pkg/errors"
)

// fakeEnv records every call and answers from configurable fields.
type fakeEnv struct {
	mu    sync.Mutex
	calls []string

	switchOutput string
	switchErr    error

	installErr      error
	installedAfter  int // RuntimeInstalled reports true from this probe onwards; 0 means never
	installedProbes int
	deployErr       error
	deployed        Network

	probeOutput string
	probeErr    error
	endpoint    string
	dnsServers  []string

	provisionErr error

	// workloads returns the listing for a 1-based poll number.
	workloads func(poll int) string
	polls     int

	firewallErr error
	address     string

	uninstallErr error
}

func (f *fakeEnv) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeEnv) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEnv) CreateSwitch(context.Context) (string, error) {
	f.record("create_switch")
	return f.switchOutput, f.switchErr
}

func (f *fakeEnv) RemoveSwitch(_ context.Context, name string) error {
	f.record("remove_switch %s", name)
	return nil
}

func (f *fakeEnv) InstallRuntime(_ context.Context, path string) error {
	f.record("install_runtime %s", path)
	return f.installErr
}

func (f *fakeEnv) RuntimeInstalled(context.Context) (bool, error) {
	f.installedProbes++
	f.record("runtime_installed")
	return f.installedAfter > 0 && f.installedProbes >= f.installedAfter, nil
}

func (f *fakeEnv) UninstallRuntime(context.Context) error {
	f.record("uninstall_runtime")
	return f.uninstallErr
}

func (f *fakeEnv) Deploy(_ context.Context, v Variant, n Network) error {
	f.record("deploy %s", v)
	f.deployed = n
	return f.deployErr
}

func (f *fakeEnv) ProbeConnectivity(context.Context) (string, error) {
	f.record("probe")
	return f.probeOutput, f.probeErr
}

func (f *fakeEnv) Endpoint(context.Context) (string, error) {
	f.record("endpoint")
	return f.endpoint, nil
}

func (f *fakeEnv) SetDNSServers(_ context.Context, endpoint string, servers []string) error {
	f.record("set_dns %s", endpoint)
	f.dnsServers = servers
	return nil
}

func (f *fakeEnv) StopVM(context.Context) error {
	f.record("stop_vm")
	return nil
}

func (f *fakeEnv) StartVM(context.Context) error {
	f.record("start_vm")
	return nil
}

func (f *fakeEnv) Provision(_ context.Context, scopeID, regID, key string) error {
	f.record("provision %s %s", scopeID, regID)
	return f.provisionErr
}

func (f *fakeEnv) ListWorkloads(context.Context) (string, error) {
	f.polls++
	f.record("list_workloads")
	if f.workloads == nil {
		return allRunning, nil
	}
	return f.workloads(f.polls), nil
}

func (f *fakeEnv) SystemLogs(context.Context) (string, error) {
	f.record("system_logs")
	return "edgeAgent: connection refused", nil
}

func (f *fakeEnv) AllowICMP(context.Context) error {
	f.record("allow_icmp")
	return f.firewallErr
}

func (f *fakeEnv) VMAddress(context.Context) (string, error) {
	f.record("vm_address")
	return f.address, nil
}

const allRunning = `NAME             STATUS           DESCRIPTION      CONFIG
edgeAgent        running          Up 2 minutes     mcr.microsoft.com/azureiotedge-agent:1.4
edgeHub          running          Up 1 minutes     mcr.microsoft.com/azureiotedge-hub:1.4`

const agentOnly = `NAME             STATUS           DESCRIPTION      CONFIG
edgeAgent        running          Up 2 minutes     mcr.microsoft.com/azureiotedge-agent:1.4`

type fakePackage struct {
	fetches  int
	failures int
	cleaned  []string
}

func (p *fakePackage) Fetch(context.Context) (string, error) {
	p.fetches++
	if p.fetches <= p.failures {
		return "", errors.New("connection reset")
	}
	return "/tmp/runtime.msi", nil
}

func (p *fakePackage) Cleanup(path string) error {
	p.cleaned = append(p.cleaned, path)
	return nil
}

type fakeKeys struct{ err error }

func (k fakeKeys) Derive(_ context.Context, regID string) (string, error) {
	if k.err != nil {
		return "", k.err
	}
	return "derived-" + regID, nil
}

type sleeps struct {
	mu sync.Mutex
	d  []time.Duration
}

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.d = append(s.d, d)
	s.mu.Unlock()
	return ctx.Err()
}

type progress struct {
	percents []int
	labels   []string
}

func (p *progress) Progress(percent int, label string) {
	p.percents = append(p.percents, percent)
	p.labels = append(p.labels, label)
}
