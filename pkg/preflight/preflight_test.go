package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	perrors "github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passingChecker() *Checker {
	return &Checker{
		Elevated:     func() (bool, error) { return true, nil },
		FreeDisk:     func(string) (uint64, error) { return 40 << 30, nil },
		CPUs:         func() int { return 4 },
		GOOS:         "windows",
		Platforms:    []string{"windows"},
		InstallDir:   `C:\edge`,
		MinCPUs:      2,
		MinDiskBytes: 20 << 30,
		Endpoints:    []string{"aka.ms", "global.azure-devices-provisioning.net"},
		Probe:        func(context.Context, string) error { return nil },
		ProbePolicy: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		},
		Installed: func(context.Context) (bool, error) { return false, nil },
	}
}

func failedCheck(t *testing.T, err error) string {
	t.Helper()
	var pe *perrors.PreconditionError
	require.True(t, errors.As(err, &pe), "expected precondition error, got %v", err)
	return pe.Check
}

func TestRunPasses(t *testing.T) {
	require.NoError(t, passingChecker().Run(context.Background()))
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Checker)
		check  string
	}{
		{"not elevated", func(c *Checker) { c.Elevated = func() (bool, error) { return false, nil } }, "elevated"},
		{"wrong platform", func(c *Checker) { c.GOOS = "darwin" }, "platform"},
		{"too few cpus", func(c *Checker) { c.CPUs = func() int { return 1 } }, "cpu"},
		{"low disk", func(c *Checker) { c.FreeDisk = func(string) (uint64, error) { return 1 << 30, nil } }, "disk"},
		{"already installed", func(c *Checker) { c.Installed = func(context.Context) (bool, error) { return true, nil } }, "not_installed"},
		{"unreachable", func(c *Checker) {
			c.Probe = func(_ context.Context, endpoint string) error {
				if endpoint == "aka.ms" {
					return errors.New("dial tcp: timeout")
				}
				return nil
			}
		}, "connectivity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := passingChecker()
			tt.mutate(c)
			assert.Equal(t, tt.check, failedCheck(t, c.Run(context.Background())))
		})
	}
}

func TestRunSkipsNilHooks(t *testing.T) {
	c := &Checker{GOOS: "linux"}
	require.NoError(t, c.Run(context.Background()))
}

func TestConnectivityRetries(t *testing.T) {
	c := passingChecker()
	c.Endpoints = []string{"aka.ms"}
	var calls atomic.Int32
	c.Probe = func(context.Context, string) error {
		if calls.Add(1) < 3 {
			return errors.New("connection reset")
		}
		return nil
	}

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPProbe(t *testing.T) {
	ok := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ok.Close()
	bad := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	probe := HTTPProbe(ok.Client())
	require.NoError(t, probe(context.Background(), strings.TrimPrefix(ok.URL, "https://")))

	probe = HTTPProbe(bad.Client())
	require.Error(t, probe(context.Background(), strings.TrimPrefix(bad.URL, "https://")))
}
