package edge

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/extract"
	"github.com/edgeprov/edge-installer/pkg/install"
	"github.com/edgeprov/edge-installer/pkg/runner"
)

const (
	// RuntimeProduct is the installed runtime package name
	RuntimeProduct = "Azure IoT Edge LTS"
	// InstallerProduct is the name this installer registers under
	InstallerProduct = "IoT Edge Installer"

	// SwitchScript creates the VM switch and prints its parameters
	SwitchScript = "AddVMSwitch.ps1"

	// DefaultRegistrationEndpoint is the global registration service host
	DefaultRegistrationEndpoint = "global.azure-devices-provisioning.net"
)

// Environment implements install.Environment with shell commands
type Environment struct {
	exec      runner.Executor
	shell     Shell
	scriptDir string

	// RegistrationEndpoint is pinged by the connectivity probe and passed to provisioning
	RegistrationEndpoint string
	// InstallTimeout bounds the runtime package installation
	InstallTimeout time.Duration
}

var _ install.Environment = (*Environment)(nil)

// NewEnvironment creates the command catalogue
func NewEnvironment(exec runner.Executor, shell Shell, scriptDir string) *Environment {
	return &Environment{
		exec:                 exec,
		shell:                shell,
		scriptDir:            scriptDir,
		RegistrationEndpoint: DefaultRegistrationEndpoint,
		InstallTimeout:       time.Hour,
	}
}

func (e *Environment) run(ctx context.Context, script string) (string, error) {
	return runner.Output(ctx, e.exec, e.shell.Script(script))
}

// vmCommand runs a command inside the managed VM
func (e *Environment) vmCommand(ctx context.Context, command string) (string, error) {
	return e.run(ctx, "Invoke-EflowVmCommand "+quote(command))
}

func (e *Environment) CreateSwitch(ctx context.Context) (string, error) {
	slog.Info("vm_switch_create")
	return runner.Output(ctx, e.exec, e.shell.File(filepath.Join(e.scriptDir, SwitchScript)))
}

func (e *Environment) RemoveSwitch(ctx context.Context, name string) error {
	slog.Info("vm_switch_remove", "switch", name)
	_, err := e.run(ctx, fmt.Sprintf("Remove-VMSwitch -Name %s -Force", quote(name)))
	return err
}

func (e *Environment) InstallRuntime(ctx context.Context, packagePath string) error {
	slog.Info("runtime_install", "package", packagePath)
	cmd := e.shell.Script(fmt.Sprintf("Start-Process -Wait msiexec -ArgumentList '/i', %s, '/qn'", quote(packagePath)))
	cmd.Timeout = e.InstallTimeout
	_, err := e.exec.Execute(ctx, cmd)
	return err
}

// ProductInstalled reports whether a product with the exact name is registered
func (e *Environment) ProductInstalled(ctx context.Context, name string) (bool, error) {
	out, err := e.run(ctx, fmt.Sprintf(
		"@(Get-CimInstance -ClassName Win32_Product -Filter \"Name = %s\").Count", quote(name)))
	if err != nil {
		return false, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return false, errors.Wrap(err, "unexpected product query output")
	}
	return n > 0, nil
}

func (e *Environment) RuntimeInstalled(ctx context.Context) (bool, error) {
	return e.ProductInstalled(ctx, RuntimeProduct)
}

func (e *Environment) UninstallRuntime(ctx context.Context) error {
	slog.Info("runtime_uninstall", "product", RuntimeProduct)
	cmd := e.shell.Script(fmt.Sprintf(
		"Get-CimInstance -ClassName Win32_Product -Filter \"Name = %s\" | Invoke-CimMethod -MethodName Uninstall", quote(RuntimeProduct)))
	cmd.Timeout = e.InstallTimeout
	_, err := e.exec.Execute(ctx, cmd)
	return err
}

// DeployScript renders the VM deployment command for a variant
func DeployScript(variant install.Variant, network install.Network) string {
	if variant == install.VariantServer {
		return fmt.Sprintf("Deploy-Eflow -cpuCount 2 -memoryInMB 2048 -vmDataSize 20 -vSwitchType \"Internal\" -vSwitchName %s -ip4Address %s -ip4GatewayAddress %s -ip4PrefixLength %s -acceptEula Yes -acceptOptionalTelemetry Yes",
			quote(network.SwitchName), network.VMAddress, network.Gateway, network.PrefixLength)
	}
	return "Deploy-Eflow -cpuCount 2 -memoryInMB 2048 -vmDataSize 10 -acceptEula Yes -acceptOptionalTelemetry Yes"
}

func (e *Environment) Deploy(ctx context.Context, variant install.Variant, network install.Network) error {
	slog.Info("vm_deploy", "variant", variant.String(), "switch", network.SwitchName)
	cmd := e.shell.Script(DeployScript(variant, network))
	cmd.Timeout = e.InstallTimeout
	_, err := e.exec.Execute(ctx, cmd)
	return err
}

func (e *Environment) ProbeConnectivity(ctx context.Context) (string, error) {
	return e.vmCommand(ctx, "ping -c 1 "+e.RegistrationEndpoint)
}

func (e *Environment) Endpoint(ctx context.Context) (string, error) {
	out, err := e.run(ctx, "Get-EflowVmEndpoint | Select-Object -ExpandProperty Name")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (e *Environment) SetDNSServers(ctx context.Context, endpoint string, servers []string) error {
	quoted := make([]string, len(servers))
	for i, s := range servers {
		quoted[i] = quote(s)
	}
	slog.Info("vm_dns_set", "endpoint", endpoint, "servers", strings.Join(servers, ","))
	_, err := e.run(ctx, fmt.Sprintf("Set-EflowVmDNSServers -vendpointName %s -dnsServers @(%s)",
		quote(strings.TrimSpace(endpoint)), strings.Join(quoted, ", ")))
	return err
}

func (e *Environment) StopVM(ctx context.Context) error {
	_, err := e.run(ctx, "Stop-EflowVm")
	return err
}

func (e *Environment) StartVM(ctx context.Context) error {
	_, err := e.run(ctx, "Start-EflowVm")
	return err
}

func (e *Environment) Provision(ctx context.Context, scopeID, registrationID, key string) error {
	slog.Info("vm_provision", "scope_id", scopeID, "registration_id", registrationID)
	cmd := e.shell.Script(fmt.Sprintf(
		"Provision-EflowVm -provisioningType DpsSymmetricKey -ScopeId %s -RegistrationId %s -symmKey %s -globalEndpoint https://%s",
		quote(scopeID), quote(registrationID), quote(key), e.RegistrationEndpoint))
	cmd.Redact = true
	_, err := e.exec.Execute(ctx, cmd)
	return err
}

func (e *Environment) ListWorkloads(ctx context.Context) (string, error) {
	out, err := e.vmCommand(ctx, "sudo iotedge list")
	if err != nil {
		return "", err
	}
	lower := strings.ToLower(out)
	if strings.Contains(lower, "failed") || strings.Contains(lower, "error") {
		slog.Warn("workload_listing_reports_errors", "output", out)
	}
	return out, nil
}

func (e *Environment) SystemLogs(ctx context.Context) (string, error) {
	return e.vmCommand(ctx, "sudo iotedge system logs")
}

func (e *Environment) AllowICMP(ctx context.Context) error {
	_, err := e.vmCommand(ctx, "sudo iptables -A INPUT -p icmp -j ACCEPT")
	return err
}

func (e *Environment) VMAddress(ctx context.Context) (string, error) {
	out, err := e.vmCommand(ctx, "ip -4 addr show eth0")
	if err != nil {
		return "", err
	}
	return extract.New(extract.AddressPatterns...).Extract(out).Get(extract.InetAddress), nil
}

// DetectVariant classifies the host from the operating system caption
func (e *Environment) DetectVariant(ctx context.Context) (install.Variant, error) {
	caption, err := e.run(ctx, "(Get-CimInstance -ClassName Win32_OperatingSystem).Caption")
	if err != nil {
		return install.VariantClient, errors.Wrap(err, "failed to query operating system")
	}
	slog.Info("host_variant_detected", "caption", caption)
	if strings.Contains(caption, "Server") {
		return install.VariantServer, nil
	}
	return install.VariantClient, nil
}
