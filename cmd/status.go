package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/hrz6976/sucker/db"
	"github.com/hrz6976/sucker/rclone"
	"github.com/hrz6976/sucker/util"
	"github.com/spf13/cobra"
)

var statusOrder = []db.Status{db.Pending, db.Downloading, db.Downloaded, db.Cancelled, db.Failed}

func runStatus(ctx context.Context, w io.Writer, ledgerPath, runID, uploadConfig string) error {
	dbHandle, err := db.Open(ledgerPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer dbHandle.Close()

	if runID == "" {
		if runID, err = dbHandle.LatestRunID(); err != nil {
			return err
		}
	}
	stats, err := dbHandle.SummarizeRun(runID)
	if err != nil {
		return fmt.Errorf("failed to summarize run %s: %w", runID, err)
	}

	fmt.Fprintf(w, "Run: %s\n", runID)
	fmt.Fprintf(w, "%-12s %-8s %-12s\n", "Status", "Count", "Total Size")
	fmt.Fprintf(w, "%-12s %-8s %-12s\n", "------", "-----", "----------")
	var total db.StatusSummary
	for _, status := range statusOrder {
		stat := stats[status]
		total.Count += stat.Count
		total.Size += stat.Size
		fmt.Fprintf(w, "%-12s %-8d %-12s\n", status.String(), stat.Count, util.FormatSize(stat.Size))
	}
	fmt.Fprintf(w, "%-12s %-8d %-12s\n", "Total", total.Count, util.FormatSize(total.Size))

	if uploadConfig == "" {
		return nil
	}
	cred, err := rclone.LoadCredentials(uploadConfig)
	if err != nil {
		return err
	}
	usage, err := rclone.RemoteUsage(ctx, cred)
	if err != nil {
		fmt.Fprintf(w, "R2 Backend: Error listing files - %v\n", err)
		return err
	}
	fmt.Fprintf(w, "%-12s %-8d %-12s\n", "Uploaded", usage.Count, util.FormatSize(usage.Size))
	return nil
}

func newStatusCmd() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show task statistics of a run",
		Long:  "Display per-status task counts and downloaded bytes recorded in the run ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledgerPath, _ := cmd.Flags().GetString("ledger")
			runID, _ := cmd.Flags().GetString("run")
			uploadConfig, _ := cmd.Flags().GetString("upload-config")

			if ledgerPath == "" {
				return cmd.Help()
			}
			return runStatus(cmd.Context(), cmd.OutOrStdout(), ledgerPath, runID, uploadConfig)
		},
	}
	statusCmd.Flags().String("ledger", "", "Path to the sqlite run ledger")
	statusCmd.Flags().String("run", "", "Run ID to summarize (default: latest)")
	statusCmd.Flags().String("upload-config", "", "Also count the files stored in the R2 bucket of this credentials file")
	return statusCmd
}
