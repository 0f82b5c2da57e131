package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgeprov/edge-installer/internal/app"
	"github.com/edgeprov/edge-installer/internal/config"
	"github.com/edgeprov/edge-installer/pkg/db"
	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent install and resume runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.ValidatePaths(); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.Path(cfg.LedgerPath))
	if err != nil {
		return errors.Wrap(err, "ledger init failed")
	}
	defer repo.Close()

	a := &app.App{Config: cfg, Ledger: repo}
	runs, err := a.History(context.Background(), historyLimit)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-36s %-8s %-24s %-16s %-5s %-20s %-20s\n", "ID", "PHASE", "DEVICE", "STATUS", "PCT", "STAGE", "UPDATED")
	fmt.Println("------------------------------------------------------------------------------------------------------------------------------------")

	for _, r := range runs {
		stage := r.LastStage
		if stage == "" {
			stage = "-"
		}
		fmt.Printf("%-36s %-8s %-24s %-16s %-5d %-20s %-20s\n",
			r.ID, r.Phase, r.DeviceName, r.Status, r.Progress, stage, r.UpdatedAt)
		if r.ErrorMessage != "" && r.Status == db.StatusFailed {
			msg, _, _ := strings.Cut(r.ErrorMessage, "\n")
			fmt.Printf("    %s\n", msg)
		}
	}

	return nil
}
