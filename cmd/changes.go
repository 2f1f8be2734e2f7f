package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/osicert/osicert/pkg/storage"
	"github.com/osicert/osicert/pkg/sysconfig"
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Show recent submission status changes (default 50)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		submission, _ := cmd.Flags().GetString("submission")
		ctx := context.Background()
		return withReadDB(ctx, func(db *storage.DB, _ *sysconfig.Holder) error {
			var (
				changes []storage.Change
				err     error
			)
			if submission != "" {
				changes, err = db.ListSubmissionChanges(ctx, submission, limit)
			} else {
				changes, err = db.ListRecentChanges(ctx, limit)
			}
			if err != nil {
				return err
			}
			for _, c := range changes {
				ts := c.OccurredAt.Format("2006-01-02 15:04:05")
				from := string(c.FromStatus)
				if from == "" {
					from = "-"
				}
				fmt.Printf("%s  %-12s -> %-12s  %s  %s  by=%s\n", ts, from, c.ToStatus, c.SubmissionID, c.ProductName, c.Actor)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(changesCmd)
	changesCmd.Flags().Int("limit", 50, "Number of recent changes to show")
	changesCmd.Flags().String("submission", "", "Only show the history of this submission")
}
