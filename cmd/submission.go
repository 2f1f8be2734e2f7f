package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/osicert/osicert/internal/utils"
	"github.com/osicert/osicert/pkg/storage"
	"github.com/osicert/osicert/pkg/sysconfig"
	"github.com/osicert/osicert/pkg/workflow"
)

var submissionCmd = &cobra.Command{
	Use:     "submission",
	Aliases: []string{"sub"},
	Short:   "Create submissions and move them through review",
}

// cliActor is the operator running the command. Local database access is
// administrative.
func cliActor(cmd *cobra.Command) workflow.Actor {
	user, _ := cmd.Flags().GetString("user")
	org, _ := cmd.Flags().GetString("org")
	return workflow.Actor{User: user, Organization: org, Admin: true}
}

func targetStatus(cmd *cobra.Command) storage.SubmissionStatus {
	if submit, _ := cmd.Flags().GetBool("submit"); submit {
		return storage.StatusSubmitted
	}
	return storage.StatusDraft
}

func newService(db *storage.DB) *workflow.Service {
	return workflow.NewService(db, utils.Log)
}

func printSubmission(sub *storage.Submission) {
	fmt.Printf("%s  %-12s  %s  %s\n", sub.ID, sub.Status, sub.OrganizationName, sub.ProductName)
}

// transition builds the RunE of the single-argument status commands.
func transition(move func(ctx context.Context, svc *workflow.Service, actor workflow.Actor, id, notes string) (*storage.Submission, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		notes, _ := cmd.Flags().GetString("notes")
		ctx := context.Background()
		return withWriteDB(ctx, func(db *storage.DB, _ *sysconfig.Holder) error {
			sub, err := move(ctx, newService(db), cliActor(cmd), args[0], notes)
			if err != nil {
				return err
			}
			printSubmission(sub)
			return nil
		})
	}
}

var submissionCreateCmd = &cobra.Command{
	Use:   "create FILE",
	Short: "Store a new submission from an OSI record file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(args[0])
		if err != nil {
			return err
		}
		ctx := context.Background()
		return withWriteDB(ctx, func(db *storage.DB, _ *sysconfig.Holder) error {
			sub, err := newService(db).Create(ctx, cliActor(cmd), raw, targetStatus(cmd))
			if err != nil {
				return err
			}
			printSubmission(sub)
			return nil
		})
	},
}

var submissionUpdateCmd = &cobra.Command{
	Use:   "update ID FILE",
	Short: "Replace the record of a draft or submitted submission",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(args[1])
		if err != nil {
			return err
		}
		ctx := context.Background()
		return withWriteDB(ctx, func(db *storage.DB, _ *sysconfig.Holder) error {
			svc := newService(db)
			target := targetStatus(cmd)
			if current, err := db.GetSubmission(ctx, args[0]); err == nil && current.Status == storage.StatusSubmitted {
				target = storage.StatusSubmitted
			}
			sub, err := svc.Update(ctx, cliActor(cmd), args[0], raw, target)
			if err != nil {
				return err
			}
			printSubmission(sub)
			return nil
		})
	},
}

var submissionSubmitCmd = &cobra.Command{
	Use:   "submit ID",
	Short: "Submit a draft for review",
	Args:  cobra.ExactArgs(1),
	RunE: transition(func(ctx context.Context, svc *workflow.Service, actor workflow.Actor, id, _ string) (*storage.Submission, error) {
		return svc.Submit(ctx, actor, id)
	}),
}

var submissionReviewCmd = &cobra.Command{
	Use:   "review ID",
	Short: "Start reviewing a submitted record",
	Args:  cobra.ExactArgs(1),
	RunE: transition(func(ctx context.Context, svc *workflow.Service, actor workflow.Actor, id, _ string) (*storage.Submission, error) {
		return svc.StartReview(ctx, actor, id)
	}),
}

var submissionApproveCmd = &cobra.Command{
	Use:   "approve ID",
	Short: "Approve a record under review",
	Args:  cobra.ExactArgs(1),
	RunE: transition(func(ctx context.Context, svc *workflow.Service, actor workflow.Actor, id, notes string) (*storage.Submission, error) {
		return svc.Approve(ctx, actor, id, notes)
	}),
}

var submissionRejectCmd = &cobra.Command{
	Use:   "reject ID",
	Short: "Reject a submitted or under-review record",
	Args:  cobra.ExactArgs(1),
	RunE: transition(func(ctx context.Context, svc *workflow.Service, actor workflow.Actor, id, notes string) (*storage.Submission, error) {
		return svc.Reject(ctx, actor, id, notes)
	}),
}

var submissionShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print a submission with its status history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return withReadDB(ctx, func(db *storage.DB, _ *sysconfig.Holder) error {
			sub, err := newService(db).Get(ctx, cliActor(cmd), args[0])
			if err != nil {
				return err
			}
			history, err := db.ListSubmissionChanges(ctx, sub.ID, 0)
			if err != nil {
				return err
			}
			return printJSON(struct {
				*storage.Submission
				History []storage.Change `json:"history"`
			}{sub, history})
		})
	},
}

var submissionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List submissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		ctx := context.Background()
		return withReadDB(ctx, func(db *storage.DB, _ *sysconfig.Holder) error {
			actor := cliActor(cmd)
			subs, err := newService(db).List(ctx, actor, storage.SubmissionFilter{
				Status:       storage.SubmissionStatus(status),
				Organization: actor.Organization,
				Limit:        limit,
			})
			if err != nil {
				return err
			}
			if len(subs) == 0 {
				fmt.Println("No submissions found.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tORGANIZATION\tPRODUCT\tUPDATED\t")
			for _, s := range subs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", s.ID, s.Status, s.OrganizationName, s.ProductName, s.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(submissionCmd)
	submissionCmd.AddCommand(submissionCreateCmd, submissionUpdateCmd, submissionSubmitCmd,
		submissionReviewCmd, submissionApproveCmd, submissionRejectCmd, submissionShowCmd, submissionListCmd)

	submissionCmd.PersistentFlags().String("user", os.Getenv("USER"), "Name recorded as the actor of the change")
	submissionCmd.PersistentFlags().String("org", "", "Organization the submission belongs to")

	submissionCreateCmd.Flags().Bool("submit", false, "Submit right away instead of storing a draft")
	submissionUpdateCmd.Flags().Bool("submit", false, "Submit the draft with the new record")
	submissionApproveCmd.Flags().String("notes", "", "Review notes")
	submissionRejectCmd.Flags().String("notes", "", "Review notes")
	submissionListCmd.Flags().String("status", "", "Only list submissions in this status")
	submissionListCmd.Flags().Int("limit", 50, "Maximum number of submissions to list")
}
