package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgeprov/edge-installer/internal/app"
	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/host"
	"github.com/edgeprov/edge-installer/pkg/runner"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   app.ResumeBinary + " [token-path]",
	Short: "Resume the edge runtime installation after a restart",
	Long: `Started by the boot task the installer registers before restarting. Reads the
continuation token from the working directory, or from token-path when the
well-known token is missing, and completes the installation. The boot task and
token are removed whatever the outcome.`,
	Args:          cobra.MaximumNArgs(1),
	RunE:          runResume,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(errors.ExitCode(err))
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("work-dir", "", "Working directory for state, logs and downloads")
	flags.String("scope-id", "", "Registration scope id")
	flags.String("primary-key-secret-id", "", "Secrets Manager id holding the enrollment key")
	flags.String("package-url", "", "Runtime package URL (https:// or s3://)")
	flags.String("package-sha256", "", "Expected runtime package checksum")
	flags.String("variant", "", "Host variant: auto, client or server")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.Bool("no-journal", false, "Run stages without the FSM journal")

	for _, key := range []string{
		"work-dir",
		"scope-id",
		"primary-key-secret-id",
		"package-url",
		"package-sha256",
		"variant",
		"log-level",
	} {
		viper.BindPFlag(key, flags.Lookup(key))
	}
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if noJournal, _ := cmd.Flags().GetBool("no-journal"); noJournal {
		viper.Set("journal-enabled", false)
	}

	tokenArg := ""
	if len(args) == 1 {
		tokenArg = args[0]
	}

	// Used only when setup fails; the App carries its own trigger otherwise.
	trigger := host.NewBootTrigger(runner.New(time.Minute))
	err := app.ResumeWith(ctx, trigger, tokenArg, load)
	if err != nil {
		return err
	}

	fmt.Println("Installation completed")
	return nil
}

func load(ctx context.Context) (*app.App, func(), error) {
	cfg, closer, err := app.Bootstrap(app.ResumeBinary, true)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	return a, func() {
		a.Close()
		closer.Close()
	}, nil
}
