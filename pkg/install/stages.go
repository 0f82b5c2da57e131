package install

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/extract"
	"github.com/edgeprov/edge-installer/pkg/retry"
)

// Stage names, in workflow order.
const (
	StageVMSwitch        = "vm_switch"
	StageInstallRuntime  = "install_runtime"
	StageConnectivity    = "connectivity"
	StageProvision       = "provision"
	StageVerifyWorkloads = "verify_workloads"
	StageFinalize        = "finalize"
)

// StageNames lists the fixed workflow topology.
var StageNames = []string{
	StageVMSwitch,
	StageInstallRuntime,
	StageConnectivity,
	StageProvision,
	StageVerifyWorkloads,
	StageFinalize,
}

// Environment is the managed environment and host tooling the stages act on.
type Environment interface {
	CreateSwitch(ctx context.Context) (string, error)
	RemoveSwitch(ctx context.Context, name string) error

	InstallRuntime(ctx context.Context, packagePath string) error
	RuntimeInstalled(ctx context.Context) (bool, error)
	UninstallRuntime(ctx context.Context) error
	Deploy(ctx context.Context, variant Variant, network Network) error

	ProbeConnectivity(ctx context.Context) (string, error)
	Endpoint(ctx context.Context) (string, error)
	SetDNSServers(ctx context.Context, endpoint string, servers []string) error
	StopVM(ctx context.Context) error
	StartVM(ctx context.Context) error

	Provision(ctx context.Context, scopeID, registrationID, key string) error
	ListWorkloads(ctx context.Context) (string, error)
	SystemLogs(ctx context.Context) (string, error)

	AllowICMP(ctx context.Context) error
	VMAddress(ctx context.Context) (string, error)
}

// PackageSource supplies the verified runtime package.
type PackageSource interface {
	Fetch(ctx context.Context) (string, error)
	Cleanup(path string) error
}

// Options tunes stage timing. Zero values fall back to DefaultOptions.
type Options struct {
	DownloadAttempts int
	DownloadBackoff  time.Duration

	InstallVerifyAttempts int
	InstallVerifyInterval time.Duration

	DNSServers     []string
	DNSStopSettle  time.Duration
	DNSStartSettle time.Duration

	ProvisionAttempts int
	ProvisionBackoff  time.Duration

	ModulePollAttempts int
	ModulePollInterval time.Duration
	Workloads          []string

	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		DownloadAttempts:      3,
		DownloadBackoff:       time.Second,
		InstallVerifyAttempts: 3,
		InstallVerifyInterval: 10 * time.Second,
		DNSServers:            []string{"8.8.8.8", "8.8.4.4"},
		DNSStopSettle:         10 * time.Second,
		DNSStartSettle:        60 * time.Second,
		ProvisionAttempts:     3,
		ProvisionBackoff:      time.Second,
		ModulePollAttempts:    5,
		ModulePollInterval:    time.Minute,
		Workloads:             []string{"edgeAgent", "edgeHub"},
		Sleep:                 retry.SleepContext,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DownloadAttempts == 0 {
		o.DownloadAttempts = d.DownloadAttempts
	}
	if o.DownloadBackoff == 0 {
		o.DownloadBackoff = d.DownloadBackoff
	}
	if o.InstallVerifyAttempts == 0 {
		o.InstallVerifyAttempts = d.InstallVerifyAttempts
	}
	if o.InstallVerifyInterval == 0 {
		o.InstallVerifyInterval = d.InstallVerifyInterval
	}
	if len(o.DNSServers) == 0 {
		o.DNSServers = d.DNSServers
	}
	if o.DNSStopSettle == 0 {
		o.DNSStopSettle = d.DNSStopSettle
	}
	if o.DNSStartSettle == 0 {
		o.DNSStartSettle = d.DNSStartSettle
	}
	if o.ProvisionAttempts == 0 {
		o.ProvisionAttempts = d.ProvisionAttempts
	}
	if o.ProvisionBackoff == 0 {
		o.ProvisionBackoff = d.ProvisionBackoff
	}
	if o.ModulePollAttempts == 0 {
		o.ModulePollAttempts = d.ModulePollAttempts
	}
	if o.ModulePollInterval == 0 {
		o.ModulePollInterval = d.ModulePollInterval
	}
	if len(o.Workloads) == 0 {
		o.Workloads = d.Workloads
	}
	if o.Sleep == nil {
		o.Sleep = d.Sleep
	}
	return o
}

// DNSManualNote is reported when rollback meets a reconfigured resolver.
const DNSManualNote = "The managed environment's DNS servers were changed during installation " +
	"and cannot be restored automatically; review its name resolution settings manually."

// Stages builds the fixed workflow.
func Stages(env Environment, pkg PackageSource, opts Options) []Stage {
	opts = opts.withDefaults()
	b := &stageBuilder{env: env, pkg: pkg, opts: opts}

	return []Stage{
		{
			Name:       StageVMSwitch,
			Position:   1,
			Flag:       FlagSwitchCreated,
			Progress:   20,
			Label:      "VM switch created",
			Skip:       func(ic *Context) bool { return ic.Variant != VariantServer },
			Forward:    b.createSwitch,
			Compensate: func(ctx context.Context, ic *Context) error { return env.RemoveSwitch(ctx, ic.Network.SwitchName) },
		},
		{
			Name:       StageInstallRuntime,
			Position:   2,
			Flag:       FlagRuntimeInstalled,
			Progress:   50,
			Label:      "Runtime installed",
			Forward:    b.installRuntime,
			Compensate: func(ctx context.Context, _ *Context) error { return env.UninstallRuntime(ctx) },
		},
		{
			Name:       StageConnectivity,
			Position:   3,
			Flag:       FlagDNSConfigured,
			Progress:   70,
			Label:      "DNS configured",
			Skip:       func(ic *Context) bool { return ic.Variant == VariantServer },
			Forward:    b.ensureConnectivity,
			ManualNote: DNSManualNote,
		},
		{
			Name:     StageProvision,
			Position: 4,
			Progress: 90,
			Label:    "Device provisioned",
			Forward:  b.provision,
		},
		{
			Name:     StageVerifyWorkloads,
			Position: 5,
			Progress: 95,
			Label:    "Workloads running",
			Forward:  b.verifyWorkloads,
		},
		{
			Name:     StageFinalize,
			Position: 6,
			Progress: 100,
			Label:    "Installation complete",
			Forward:  b.finalize,
		},
	}
}

type stageBuilder struct {
	env  Environment
	pkg  PackageSource
	opts Options
}

func (b *stageBuilder) createSwitch(ctx context.Context, ic *Context) error {
	out, err := b.env.CreateSwitch(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to create VM switch")
	}
	ic.mark(FlagSwitchCreated)

	fields := extract.New(extract.SwitchPatterns...).Extract(out)
	def := DefaultNetwork()
	ic.Network = Network{
		SwitchName:   fields.Or(extract.SwitchName, def.SwitchName),
		VMAddress:    fields.Or(extract.VMIP, def.VMAddress),
		Gateway:      fields.Or(extract.Gateway, def.Gateway),
		PrefixLength: fields.Or(extract.PrefixLength, def.PrefixLength),
	}
	for field, value := range fields {
		if value == "" {
			slog.Warn("switch_field_missing", "field", string(field))
		}
	}

	slog.Info("switch_created",
		"switch", ic.Network.SwitchName,
		"vm_ip", ic.Network.VMAddress,
		"gateway", ic.Network.Gateway,
		"prefix", ic.Network.PrefixLength)
	return nil
}

var errNotInstalled = errors.New("runtime not reported as installed")

func (b *stageBuilder) installRuntime(ctx context.Context, ic *Context) error {
	path, err := retry.Do(ctx, retry.Policy{
		MaxAttempts: b.opts.DownloadAttempts,
		BaseDelay:   b.opts.DownloadBackoff,
		Sleep:       b.opts.Sleep,
	}, func(ctx context.Context, _ int) (string, error) {
		return b.pkg.Fetch(ctx)
	})
	if err != nil {
		return errors.Wrap(err, "failed to download runtime package")
	}
	ic.PackagePath = path

	if err := b.env.InstallRuntime(ctx, path); err != nil {
		return errors.Wrap(err, "failed to install runtime package")
	}
	ic.mark(FlagRuntimeInstalled)

	_, err = retry.Do(ctx, retry.Policy{
		MaxAttempts: b.opts.InstallVerifyAttempts,
		BaseDelay:   b.opts.InstallVerifyInterval,
		Multiplier:  1,
		Sleep:       b.opts.Sleep,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			slog.Warn("runtime_verify_retry", "attempt", attempt, "max_attempts", b.opts.InstallVerifyAttempts, "error", err)
		},
	}, func(ctx context.Context, _ int) (bool, error) {
		ok, err := b.env.RuntimeInstalled(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, errNotInstalled
		}
		return true, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		slog.Error("runtime_verify_failed", "error", err)
		return &errors.VerificationError{Condition: "runtime installation", Attempts: b.opts.InstallVerifyAttempts}
	}

	if err := b.env.Deploy(ctx, ic.Variant, ic.Network); err != nil {
		return errors.Wrap(err, "failed to deploy managed environment")
	}
	return nil
}

// NeedsDNSRemediation reports whether probe output shows the registration service is unreachable.
// Empty output counts as unreachable.
func NeedsDNSRemediation(probe string) bool {
	return strings.TrimSpace(probe) == "" ||
		strings.Contains(probe, "100% packet loss") ||
		strings.Contains(probe, "unknown host")
}

func (b *stageBuilder) ensureConnectivity(ctx context.Context, ic *Context) error {
	out, err := b.env.ProbeConnectivity(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		slog.Warn("connectivity_probe_failed", "error", err)
		out = ""
	}
	if !NeedsDNSRemediation(out) {
		slog.Info("connectivity_ok")
		return ErrNothingToDo
	}

	slog.Warn("connectivity_remediation_required", "servers", strings.Join(b.opts.DNSServers, ","))
	endpoint, err := b.env.Endpoint(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read VM endpoint")
	}
	if endpoint == "" {
		return errors.New("VM endpoint name is empty")
	}
	if err := b.env.SetDNSServers(ctx, endpoint, b.opts.DNSServers); err != nil {
		return errors.Wrap(err, "failed to set DNS servers")
	}
	ic.mark(FlagDNSConfigured)

	if err := b.env.StopVM(ctx); err != nil {
		return errors.Wrap(err, "failed to stop VM")
	}
	if err := b.opts.Sleep(ctx, b.opts.DNSStopSettle); err != nil {
		return err
	}
	if err := b.env.StartVM(ctx); err != nil {
		return errors.Wrap(err, "failed to start VM")
	}
	return b.opts.Sleep(ctx, b.opts.DNSStartSettle)
}

func (b *stageBuilder) provision(ctx context.Context, ic *Context) error {
	_, err := retry.Do(ctx, retry.Policy{
		MaxAttempts: b.opts.ProvisionAttempts,
		BaseDelay:   b.opts.ProvisionBackoff,
		Sleep:       b.opts.Sleep,
	}, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, b.env.Provision(ctx, ic.ScopeID, ic.RegistrationID, ic.DerivedKey)
	})
	if err != nil {
		return errors.Wrap(err, "failed to provision device")
	}

	if err := b.env.StartVM(ctx); err != nil {
		return errors.Wrap(err, "failed to start VM")
	}
	return nil
}

var errWorkloadsNotReady = errors.New("required workloads not running")

// WorkloadStatus is the parsed workload listing.
type WorkloadStatus struct {
	Running  map[string]bool
	Degraded bool
}

// Ready reports whether every named workload is running. Partial readiness is not ready.
func (s WorkloadStatus) Ready(names []string) bool {
	for _, n := range names {
		if !s.Running[n] {
			return false
		}
	}
	return true
}

// ParseWorkloads reads a workload listing. A workload is running when a line
// names it as a token and carries the running marker.
func ParseWorkloads(raw string, names []string) WorkloadStatus {
	status := WorkloadStatus{Running: make(map[string]bool, len(names))}
	lower := strings.ToLower(raw)
	status.Degraded = strings.Contains(lower, "failed") || strings.Contains(lower, "error")

	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if !strings.Contains(strings.ToLower(line), "running") {
			continue
		}
		for _, name := range names {
			for _, f := range fields {
				if f == name {
					status.Running[name] = true
				}
			}
		}
	}
	return status
}

func (b *stageBuilder) verifyWorkloads(ctx context.Context, ic *Context) error {
	names := b.opts.Workloads
	_, err := retry.Do(ctx, retry.Policy{
		MaxAttempts: b.opts.ModulePollAttempts,
		BaseDelay:   b.opts.ModulePollInterval,
		Multiplier:  1,
		Sleep:       b.opts.Sleep,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			slog.Info("workloads_not_ready", "attempt", attempt, "max_attempts", b.opts.ModulePollAttempts, "next_poll", delay)
		},
	}, func(ctx context.Context, attempt int) (struct{}, error) {
		out, err := b.env.ListWorkloads(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return struct{}{}, ctxErr
			}
			slog.Warn("workload_listing_failed", "attempt", attempt, "error", err)
			return struct{}{}, errWorkloadsNotReady
		}

		status := ParseWorkloads(out, names)
		if status.Degraded {
			slog.Warn("workload_listing_reports_errors", "attempt", attempt)
		}
		if status.Ready(names) {
			slog.Info("workloads_running", "attempt", attempt)
			return struct{}{}, nil
		}
		for _, n := range names {
			slog.Info("workload_status", "attempt", attempt, "workload", n, "running", status.Running[n])
		}
		return struct{}{}, errWorkloadsNotReady
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	logs, logErr := b.env.SystemLogs(ctx)
	if logErr != nil {
		slog.Error("workload_diagnostics_failed", "error", logErr)
	} else {
		slog.Error("workload_diagnostics", "logs", logs)
	}
	return &errors.VerificationError{
		Condition: fmt.Sprintf("workloads %s running", strings.Join(names, ", ")),
		Attempts:  b.opts.ModulePollAttempts,
	}
}

func (b *stageBuilder) finalize(ctx context.Context, ic *Context) error {
	if err := b.env.AllowICMP(ctx); err != nil {
		return errors.Wrap(err, "failed to apply firewall rule")
	}

	addr, err := b.env.VMAddress(ctx)
	switch {
	case err != nil:
		slog.Warn("vm_address_unavailable", "error", err)
	case addr == "":
		slog.Warn("vm_address_unavailable")
	default:
		slog.Info("vm_address", "address", addr)
	}
	ic.Address = addr

	if ic.PackagePath != "" {
		if err := b.pkg.Cleanup(ic.PackagePath); err != nil {
			slog.Warn("package_cleanup_failed", "path", ic.PackagePath, "error", err)
		}
	}
	return nil
}
