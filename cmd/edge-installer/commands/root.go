package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgeprov/edge-installer/internal/app"
	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const component = "edge-installer"

var rootCmd = &cobra.Command{
	Use:   "edge-installer <params-file>",
	Short: "Install and register the edge runtime on this host",
	Long: `Installs the edge runtime VM, registers the device named on the first line of
<params-file>, and waits for its workloads to run. When a host feature must be
enabled first, a resume task is scheduled and the machine restarts.`,
	Args:          cobra.ExactArgs(1),
	RunE:          runInstall,
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
	flags.BoolP("yes", "y", false, "Restart without asking for confirmation")
	flags.Bool("no-journal", false, "Run stages without the FSM journal")

	for key, flag := range map[string]string{
		"work-dir":              "work-dir",
		"scope-id":              "scope-id",
		"primary-key-secret-id": "primary-key-secret-id",
		"package-url":           "package-url",
		"package-sha256":        "package-sha256",
		"variant":               "variant",
		"log-level":             "log-level",
		"assume-yes":            "yes",
	} {
		viper.BindPFlag(key, flags.Lookup(flag))
	}
}

// resumeFlags are repeated on the resume task command line when set, so the
// resume process rebuilds the same configuration. Keys are never forwarded.
var resumeFlags = []string{
	"scope-id",
	"primary-key-secret-id",
	"package-url",
	"package-sha256",
	"variant",
	"log-level",
	"no-journal",
}

func forwardedFlags(cmd *cobra.Command) []string {
	var out []string
	for _, name := range resumeFlags {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			out = append(out, "--"+name+"="+f.Value.String())
		}
	}
	return out
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if noJournal, _ := cmd.Flags().GetBool("no-journal"); noJournal {
		viper.Set("journal-enabled", false)
	}

	cfg, closer, err := app.Bootstrap(component, true)
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.ForwardedFlags = forwardedFlags(cmd)

	outcome, err := a.Install(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Installation %s\n", outcome)
	return nil
}
