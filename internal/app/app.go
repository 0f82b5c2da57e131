// Package app wires the installer components for both entry points.
package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/edgeprov/edge-installer/internal/config"
	"github.com/edgeprov/edge-installer/pkg/continuation"
	"github.com/edgeprov/edge-installer/pkg/db"
	"github.com/edgeprov/edge-installer/pkg/edge"
	"github.com/edgeprov/edge-installer/pkg/errors"
	appfsm "github.com/edgeprov/edge-installer/pkg/fsm"
	"github.com/edgeprov/edge-installer/pkg/host"
	"github.com/edgeprov/edge-installer/pkg/install"
	"github.com/edgeprov/edge-installer/pkg/preflight"
	"github.com/edgeprov/edge-installer/pkg/retry"
	"github.com/edgeprov/edge-installer/pkg/rollback"
	"github.com/edgeprov/edge-installer/pkg/runner"
	"github.com/edgeprov/edge-installer/pkg/secrets"
	"github.com/edgeprov/edge-installer/pkg/security"
	"github.com/edgeprov/edge-installer/pkg/storage"
)

// ResumeBinary is the name of the post-restart entry point
const ResumeBinary = "edge-resume"

// Environment is the managed environment plus the host queries the app needs
type Environment interface {
	install.Environment
	DetectVariant(ctx context.Context) (install.Variant, error)
}

// Checker verifies the host before any change
type Checker interface {
	Run(ctx context.Context) error
}

// App holds the wired components
type App struct {
	Config *config.Config

	Env       Environment
	Prereq    continuation.Prerequisite
	Trigger   host.BootTrigger
	Restarter host.Restarter
	Prompter  continuation.Prompter
	Preflight Checker
	Packages  install.PackageSource
	Keys      install.KeyDeriver
	Ledger    *db.Repository

	// Elevated gates the resume entry point
	Elevated func() (bool, error)
	// Sleep is used for every wait between attempts
	Sleep func(ctx context.Context, d time.Duration) error
	// BinDir is the directory holding the resume binary
	BinDir string
	// ForwardedFlags are installer flags repeated on the resume command line
	ForwardedFlags []string
}

// New builds the production wiring for cfg
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	validator := security.NewValidator(cfg.PackageMinSize, cfg.PackageMaxSize)
	for _, p := range []string{cfg.TokenPath, cfg.LedgerPath, cfg.JournalPath} {
		if _, err := validator.ValidatePath(p, cfg.WorkDir); err != nil {
			return nil, errors.Precondition("config", err)
		}
	}

	exec := runner.New(cfg.CommandTimeout)
	shell := edge.NewShell(cfg.Shell)
	scriptDir := cfg.Path(cfg.ScriptDir)

	env := edge.NewEnvironment(exec, shell, scriptDir)
	env.RegistrationEndpoint = cfg.RegistrationEndpoint
	env.InstallTimeout = cfg.InstallTimeout

	keys, err := keySource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ledger, err := db.NewRepository(cfg.Path(cfg.LedgerPath))
	if err != nil {
		return nil, errors.Wrap(err, "ledger init failed")
	}

	checker := preflight.NewChecker(cfg.WorkDir, cfg.MinCPUs, cfg.MinDiskBytes, cfg.ConnectivityEndpoints)
	checker.Installed = env.RuntimeInstalled

	s3 := func(ctx context.Context, bucket string) (*storage.Client, error) {
		return storage.NewClient(ctx, bucket, cfg.AWSRegion, false)
	}

	binDir := ""
	if exe, err := os.Executable(); err == nil {
		binDir = filepath.Dir(exe)
	}

	return &App{
		Config:    cfg,
		Env:       env,
		Prereq:    edge.NewPrerequisite(exec, shell, scriptDir),
		Trigger:   host.NewBootTrigger(exec),
		Restarter: host.NewRestarter(exec),
		Prompter:  continuation.NewPrompter(cfg.AssumeYes),
		Preflight: checker,
		Packages:  storage.NewPackageSource(cfg.PackageURL, cfg.PackageSHA256, cfg.Path("downloads"), validator, s3),
		Keys:      keys,
		Ledger:    ledger,
		Elevated:  host.IsElevated,
		Sleep:     retry.SleepContext,
		BinDir:    binDir,
	}, nil
}

func keySource(ctx context.Context, cfg *config.Config) (install.KeyDeriver, error) {
	if cfg.PrimaryKeySecretID != "" {
		src, err := secrets.NewAWSSource(ctx, cfg.PrimaryKeySecretID, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		return &secrets.Deriver{Source: src}, nil
	}
	key := cfg.PrimaryKey
	if key == "" {
		key = cfg.SecondaryKey
	}
	return &secrets.Deriver{Source: secrets.StaticSource{Key: key}}, nil
}

// Close releases the ledger
func (a *App) Close() error {
	if a.Ledger == nil {
		return nil
	}
	return a.Ledger.Close()
}

func (a *App) tokenStore() *continuation.TokenStore {
	return continuation.NewTokenStore(a.Config.Path(a.Config.TokenPath))
}

func (a *App) resumeTask() host.Task {
	name := ResumeBinary
	if filepath.Separator == '\\' {
		name += ".exe"
	}
	return host.Task{
		Name:        host.DefaultTaskName,
		Description: "Resume edge runtime installation after restart",
		Command:     filepath.Join(a.BinDir, name),
		Args:        append([]string{"--work-dir=" + a.Config.WorkDir}, a.ForwardedFlags...),
		WorkDir:     a.Config.WorkDir,
		Delay:       a.Config.BootTriggerDelay,
	}
}

func (a *App) variant(ctx context.Context) (install.Variant, error) {
	switch a.Config.Variant {
	case "server":
		return install.VariantServer, nil
	case "client":
		return install.VariantClient, nil
	}
	return a.Env.DetectVariant(ctx)
}

func (a *App) stageOptions() install.Options {
	cfg := a.Config
	return install.Options{
		InstallVerifyAttempts: cfg.InstallVerifyAttempts,
		InstallVerifyInterval: cfg.InstallVerifyInterval,
		DNSServers:            cfg.DNSServers,
		DNSStopSettle:         cfg.DNSStopSettle,
		DNSStartSettle:        cfg.DNSStartSettle,
		ModulePollAttempts:    cfg.ModulePollAttempts,
		ModulePollInterval:    cfg.ModulePollInterval,
		Sleep:                 a.Sleep,
	}
}

// sequence runs the installation workflow for one device and ledger run
func (a *App) sequence(ctx context.Context, deviceName, runID string) error {
	variant, err := a.variant(ctx)
	if err != nil {
		return err
	}

	var engine install.Engine = install.LinearEngine{}
	if a.Config.JournalEnabled {
		engine = appfsm.NewEngine(a.Config.Path(a.Config.JournalPath))
	}

	seq := &install.Sequencer{
		Variant:  variant,
		ScopeID:  a.Config.ScopeID,
		Keys:     a.Keys,
		Stages:   install.Stages(a.Env, a.Packages, a.stageOptions()),
		Engine:   engine,
		Rollback: rollback.New(),
		Observer: install.Observers{progressLogger{}, &ledgerObserver{ledger: a.Ledger, runID: runID}},
	}

	out, err := seq.Run(ctx, install.Input{DeviceName: deviceName})
	if err != nil {
		return err
	}

	slog.Info("device_ready", "registration_id", out.RegistrationID, "address", out.Address)
	return nil
}

// progressLogger reports progress in the installer log
type progressLogger struct{}

func (progressLogger) Progress(percent int, label string) {
	slog.Info("progress", "percent", percent, "label", label)
}

// ledgerObserver records progress on the ledger row
type ledgerObserver struct {
	ledger *db.Repository
	runID  string
}

func (o *ledgerObserver) Progress(percent int, label string) {
	if o.ledger == nil || o.runID == "" {
		return
	}
	if err := o.ledger.UpdateProgress(context.Background(), o.runID, percent, label); err != nil {
		slog.Warn("ledger_progress_failed", "run_id", o.runID, "error", err)
	}
}
