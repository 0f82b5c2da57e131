// Package preflight verifies the host before the installer changes anything.
package preflight

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"slices"
	"time"

	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/host"
	"github.com/edgeprov/edge-installer/pkg/retry"
	"golang.org/x/sync/errgroup"
)

// Probe checks that an endpoint is reachable
type Probe func(ctx context.Context, endpoint string) error

// HTTPProbe issues a GET to https://endpoint and expects a 2xx or 3xx answer
func HTTPProbe(client *http.Client) Probe {
	return func(ctx context.Context, endpoint string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("%s answered %s", endpoint, resp.Status)
		}
		return nil
	}
}

// Checker runs the host checks. Nil hooks skip their check.
type Checker struct {
	Elevated func() (bool, error)
	FreeDisk func(path string) (uint64, error)
	CPUs     func() int

	GOOS      string
	Platforms []string

	InstallDir   string
	MinCPUs      int
	MinDiskBytes uint64

	Endpoints   []string
	Probe       Probe
	ProbePolicy retry.Policy

	// Installed reports an existing installation, which blocks a new one
	Installed func(ctx context.Context) (bool, error)
}

// NewChecker returns a checker wired to the real host
func NewChecker(installDir string, minCPUs int, minDisk uint64, endpoints []string) *Checker {
	return &Checker{
		Elevated:     host.IsElevated,
		FreeDisk:     host.FreeDiskBytes,
		CPUs:         runtime.NumCPU,
		GOOS:         runtime.GOOS,
		Platforms:    []string{"windows"},
		InstallDir:   installDir,
		MinCPUs:      minCPUs,
		MinDiskBytes: minDisk,
		Endpoints:    endpoints,
		Probe:        HTTPProbe(&http.Client{Timeout: 10 * time.Second}),
		ProbePolicy:  retry.Policy{MaxAttempts: 3, BaseDelay: time.Second},
	}
}

type check struct {
	name string
	run  func(ctx context.Context) error
}

// Run executes every check in order and stops at the first failure
func (c *Checker) Run(ctx context.Context) error {
	checks := []check{
		{"elevated", c.checkElevated},
		{"platform", c.checkPlatform},
		{"cpu", c.checkCPUs},
		{"disk", c.checkDisk},
		{"not_installed", c.checkNotInstalled},
		{"connectivity", c.checkConnectivity},
	}

	for _, ch := range checks {
		if err := ch.run(ctx); err != nil {
			slog.Error("preflight_check_failed", "check", ch.name, "error", err)
			return errors.Precondition(ch.name, err)
		}
		slog.Debug("preflight_check_passed", "check", ch.name)
	}

	slog.Info("preflight_passed")
	return nil
}

func (c *Checker) checkElevated(context.Context) error {
	if c.Elevated == nil {
		return nil
	}
	ok, err := c.Elevated()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("the installer must run with administrator privileges")
	}
	return nil
}

func (c *Checker) checkPlatform(context.Context) error {
	if len(c.Platforms) == 0 || slices.Contains(c.Platforms, c.GOOS) {
		return nil
	}
	return fmt.Errorf("unsupported operating system %s", c.GOOS)
}

func (c *Checker) checkCPUs(context.Context) error {
	if c.CPUs == nil || c.MinCPUs <= 0 {
		return nil
	}
	if n := c.CPUs(); n < c.MinCPUs {
		return fmt.Errorf("minimum of %d CPU cores required, found %d", c.MinCPUs, n)
	}
	return nil
}

func (c *Checker) checkDisk(context.Context) error {
	if c.FreeDisk == nil || c.MinDiskBytes == 0 {
		return nil
	}
	free, err := c.FreeDisk(c.InstallDir)
	if err != nil {
		return err
	}
	if free < c.MinDiskBytes {
		return fmt.Errorf("insufficient disk space: required %dMB, available %dMB",
			c.MinDiskBytes/1024/1024, free/1024/1024)
	}
	return nil
}

func (c *Checker) checkNotInstalled(ctx context.Context) error {
	if c.Installed == nil {
		return nil
	}
	installed, err := c.Installed(ctx)
	if err != nil {
		return err
	}
	if installed {
		return errors.New("an existing installation was found; uninstall it before installing again")
	}
	return nil
}

// checkConnectivity probes every endpoint concurrently
func (c *Checker) checkConnectivity(ctx context.Context) error {
	if c.Probe == nil || len(c.Endpoints) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, endpoint := range c.Endpoints {
		g.Go(func() error {
			_, err := retry.Do(gctx, c.ProbePolicy, func(ctx context.Context, _ int) (struct{}, error) {
				return struct{}{}, c.Probe(ctx, endpoint)
			})
			if err != nil {
				return fmt.Errorf("cannot reach %s: %w", endpoint, err)
			}
			return nil
		})
	}
	return g.Wait()
}
