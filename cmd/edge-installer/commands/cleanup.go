package commands

import (
	"context"
	"fmt"

	"github.com/edgeprov/edge-installer/internal/app"
	"github.com/edgeprov/edge-installer/pkg/db"
	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/host"
	"github.com/edgeprov/edge-installer/pkg/runner"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove resume task, continuation token, downloads and journals",
	Long: `Removes everything an interrupted installation can leave behind:
  - the resume boot task
  - the continuation token
  - downloaded runtime packages and FSM journals
Runs still marked running in the ledger are marked cancelled.
The managed environment itself is left untouched.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, closer, err := app.Bootstrap(component, false)
	if err != nil {
		return err
	}
	defer closer.Close()

	repo, err := db.NewRepository(cfg.Path(cfg.LedgerPath))
	if err != nil {
		return errors.Wrap(err, "ledger init failed")
	}
	defer repo.Close()

	a := &app.App{
		Config:  cfg,
		Ledger:  repo,
		Trigger: host.NewBootTrigger(runner.New(cfg.CommandTimeout)),
	}

	report, err := a.Cleanup(context.Background())
	if err != nil {
		return errors.Wrap(err, "cleanup failed")
	}

	if report.TriggerRemoved {
		fmt.Println("Removed resume task")
	}
	if report.TokenRemoved {
		fmt.Println("Removed continuation token")
	}
	for _, p := range report.Removed {
		fmt.Printf("Removed %s\n", p)
	}
	fmt.Printf("Marked %d unfinished runs as cancelled\n", report.Abandoned)
	return nil
}
