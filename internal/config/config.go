package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Paths. Relative paths resolve under WorkDir.
	WorkDir     string `mapstructure:"work-dir"`
	ScriptDir   string `mapstructure:"script-dir"`
	LogFile     string `mapstructure:"log-file"`
	LogLevel    string `mapstructure:"log-level"`
	LedgerPath  string `mapstructure:"ledger-path"`
	JournalPath string `mapstructure:"journal-path"`
	TokenPath   string `mapstructure:"token-path"`

	// Registration
	RegistrationEndpoint string `mapstructure:"registration-endpoint"`
	ScopeID              string `mapstructure:"scope-id"`
	PrimaryKey           string `mapstructure:"primary-key"`
	SecondaryKey         string `mapstructure:"secondary-key"`
	PrimaryKeySecretID   string `mapstructure:"primary-key-secret-id"`
	AWSRegion            string `mapstructure:"aws-region"`

	// Runtime package
	PackageURL     string `mapstructure:"package-url"`
	PackageSHA256  string `mapstructure:"package-sha256"`
	PackageMinSize int64  `mapstructure:"package-min-size"`
	PackageMaxSize int64  `mapstructure:"package-max-size"`

	// Execution
	Shell                 string        `mapstructure:"shell"`
	Variant               string        `mapstructure:"variant"`
	CommandTimeout        time.Duration `mapstructure:"command-timeout"`
	InstallTimeout        time.Duration `mapstructure:"install-timeout"`
	BootTriggerDelay      time.Duration `mapstructure:"boot-trigger-delay"`
	ResumeAttempts        int           `mapstructure:"resume-attempts"`
	ResumeDelay           time.Duration `mapstructure:"resume-delay"`
	ModulePollAttempts    int           `mapstructure:"module-poll-attempts"`
	ModulePollInterval    time.Duration `mapstructure:"module-poll-interval"`
	InstallVerifyAttempts int           `mapstructure:"install-verify-attempts"`
	InstallVerifyInterval time.Duration `mapstructure:"install-verify-interval"`
	DNSStopSettle         time.Duration `mapstructure:"dns-stop-settle"`
	DNSStartSettle        time.Duration `mapstructure:"dns-start-settle"`
	DNSServers            []string      `mapstructure:"dns-servers"`
	ConnectivityEndpoints []string      `mapstructure:"connectivity-endpoints"`

	// Behaviour
	JournalEnabled bool   `mapstructure:"journal-enabled"`
	ConfirmRestart bool   `mapstructure:"confirm-restart"`
	AssumeYes      bool   `mapstructure:"assume-yes"`
	MinCPUs        int    `mapstructure:"min-cpus"`
	MinDiskBytes   uint64 `mapstructure:"min-disk-bytes"`
}

// DefaultWorkDir is the install directory for the current platform
func DefaultWorkDir() string {
	if runtime.GOOS == "windows" {
		return `C:\ProgramData\EdgeInstaller`
	}
	return "/var/lib/edge-installer"
}

// DefaultShell is the command interpreter for the current platform
func DefaultShell() string {
	if runtime.GOOS == "windows" {
		return "powershell.exe"
	}
	return "/bin/sh"
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("work-dir", DefaultWorkDir())
	v.SetDefault("script-dir", "scripts")
	v.SetDefault("log-file", "IoTEdgeInstaller.log")
	v.SetDefault("log-level", "info")
	v.SetDefault("ledger-path", "state/ledger.db")
	v.SetDefault("journal-path", "state/journal")
	v.SetDefault("token-path", "state/continuation.yaml")

	v.SetDefault("registration-endpoint", "global.azure-devices-provisioning.net")
	// Keys without a value still need registering so EDGE_* variables reach Unmarshal
	for _, key := range []string{"scope-id", "primary-key", "secondary-key", "primary-key-secret-id", "package-url", "package-sha256"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("aws-region", "us-east-1")

	v.SetDefault("package-min-size", 1_000_000)
	v.SetDefault("package-max-size", 2*1024*1024*1024)

	v.SetDefault("shell", DefaultShell())
	v.SetDefault("variant", "auto")
	v.SetDefault("command-timeout", 30*time.Minute)
	v.SetDefault("install-timeout", time.Hour)
	v.SetDefault("boot-trigger-delay", 30*time.Second)
	v.SetDefault("resume-attempts", 3)
	v.SetDefault("resume-delay", time.Minute)
	v.SetDefault("module-poll-attempts", 5)
	v.SetDefault("module-poll-interval", time.Minute)
	v.SetDefault("install-verify-attempts", 3)
	v.SetDefault("install-verify-interval", 10*time.Second)
	v.SetDefault("dns-stop-settle", 10*time.Second)
	v.SetDefault("dns-start-settle", 60*time.Second)
	v.SetDefault("dns-servers", []string{"8.8.8.8", "8.8.4.4"})
	v.SetDefault("connectivity-endpoints", []string{"aka.ms"})

	v.SetDefault("journal-enabled", true)
	v.SetDefault("confirm-restart", true)
	v.SetDefault("assume-yes", false)
	v.SetDefault("min-cpus", 2)
	v.SetDefault("min-disk-bytes", uint64(20*1024*1024*1024))
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration through v
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	// Environment variables (EDGE_SCOPE_ID, EDGE_PRIMARY_KEY, etc.)
	v.SetEnvPrefix("EDGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, dir := range SearchPaths(v.GetString("work-dir")) {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// SearchPaths lists the config file directories in lookup order: the current
// directory, the work dir, the executable's directory, then $HOME/.edge-installer.
// The resume process may start in any directory.
func SearchPaths(workDir string) []string {
	paths := []string{"."}
	if workDir != "" {
		paths = append(paths, workDir)
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Dir(exe))
	}
	return append(paths, "$HOME/.edge-installer")
}

// Path resolves p under WorkDir unless it is absolute
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.WorkDir, p)
}

// HasKeySource reports whether any enrollment key source is configured
func (c *Config) HasKeySource() bool {
	return c.PrimaryKeySecretID != "" || c.PrimaryKey != "" || c.SecondaryKey != ""
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	return errors.Precondition("config", c.validate())
}

// ValidatePaths checks only what the maintenance commands need
func (c *Config) ValidatePaths() error {
	return errors.Precondition("config", c.validatePaths())
}

func (c *Config) validatePaths() error {
	if c.WorkDir == "" {
		return fmt.Errorf("work-dir cannot be empty")
	}
	if c.LogFile == "" {
		return fmt.Errorf("log-file cannot be empty")
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("ledger-path cannot be empty")
	}
	if c.JournalPath == "" {
		return fmt.Errorf("journal-path cannot be empty")
	}
	if c.TokenPath == "" {
		return fmt.Errorf("token-path cannot be empty")
	}
	return nil
}

func (c *Config) validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if c.ScopeID == "" {
		return fmt.Errorf("scope-id cannot be empty")
	}
	if !c.HasKeySource() {
		return fmt.Errorf("one of primary-key, secondary-key or primary-key-secret-id is required")
	}
	if c.Shell == "" {
		return fmt.Errorf("shell cannot be empty")
	}
	switch c.Variant {
	case "auto", "client", "server":
	default:
		return fmt.Errorf("variant must be auto, client or server")
	}
	if c.PackageMinSize <= 0 {
		return fmt.Errorf("package-min-size must be positive")
	}
	if c.PackageMaxSize < 0 || (c.PackageMaxSize > 0 && c.PackageMaxSize < c.PackageMinSize) {
		return fmt.Errorf("package-max-size must be zero or at least package-min-size")
	}

	positive := []struct {
		key string
		val time.Duration
	}{
		{"command-timeout", c.CommandTimeout},
		{"install-timeout", c.InstallTimeout},
		{"resume-delay", c.ResumeDelay},
		{"module-poll-interval", c.ModulePollInterval},
		{"install-verify-interval", c.InstallVerifyInterval},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return fmt.Errorf("%s must be positive", p.key)
		}
	}
	if c.BootTriggerDelay < 0 || c.DNSStopSettle < 0 || c.DNSStartSettle < 0 {
		return fmt.Errorf("delays cannot be negative")
	}

	counts := []struct {
		key string
		val int
	}{
		{"resume-attempts", c.ResumeAttempts},
		{"module-poll-attempts", c.ModulePollAttempts},
		{"install-verify-attempts", c.InstallVerifyAttempts},
	}
	for _, n := range counts {
		if n.val <= 0 {
			return fmt.Errorf("%s must be positive", n.key)
		}
	}
	if len(c.DNSServers) == 0 {
		return fmt.Errorf("dns-servers cannot be empty")
	}
	return nil
}
