package app

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/edgeprov/edge-installer/internal/config"
	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/logging"
)

// Bootstrap loads configuration, creates the working directories and starts
// logging for component. full selects the complete validation used by the
// install and resume entry points.
func Bootstrap(component string, full bool) (*config.Config, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "config load failed")
	}

	validate := cfg.ValidatePaths
	if full {
		validate = cfg.Validate
	}
	if err := validate(); err != nil {
		return nil, nil, err
	}

	if err := EnsureDirectories(cfg.WorkDir, filepath.Dir(cfg.Path(cfg.LedgerPath))); err != nil {
		return nil, nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, nil, errors.Precondition("config", errors.Wrap(err, "invalid log-level"))
	}

	closer, err := logging.Setup(logging.Options{
		Component: component,
		LogFile:   cfg.Path(cfg.LogFile),
		Level:     level,
		Console:   os.Stdout,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, closer, nil
}

// EnsureDirectories creates every directory in dirs
func EnsureDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "failed to create directory "+dir)
		}
	}
	return nil
}
