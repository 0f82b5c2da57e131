package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/edgeprov/edge-installer/pkg/errors"
)

// Options configures Setup.
type Options struct {
	Component string
	LogFile   string
	Level     slog.Level
	Console   io.Writer
}

// Setup opens the log file for appending and installs a default logger that writes
// to both the console and the file. The returned closer releases the file.
func Setup(opts Options) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(opts.LogFile), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create log directory")
	}

	f, err := os.OpenFile(opts.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open log file")
	}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	logger := slog.New(Fanout{
		slog.NewTextHandler(console, &slog.HandlerOptions{Level: opts.Level}),
		NewFileHandler(f, opts.Component, opts.Level),
	})
	slog.SetDefault(logger)

	slog.Info("logging_ready", "component", opts.Component, "log_file", opts.LogFile)
	return f, nil
}
