package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/osicert/osicert/internal/utils"
	"github.com/osicert/osicert/pkg/certs"
	"github.com/osicert/osicert/pkg/render"
	"github.com/osicert/osicert/pkg/storage"
	"github.com/osicert/osicert/pkg/sysconfig"
)

var certCmd = &cobra.Command{
	Use:     "cert",
	Aliases: []string{"certificate"},
	Short:   "Issue, revoke and inspect certificates",
}

// certificateID resolves a certificate number or id to the id.
func certificateID(ctx context.Context, db *storage.DB, ref string) (string, error) {
	number := certs.NormalizeNumber(ref)
	if !certs.ValidNumber(number) {
		return ref, nil
	}
	c, err := db.GetCertificateByNumber(ctx, number)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

var certIssueCmd = &cobra.Command{
	Use:   "issue SUBMISSION_ID",
	Short: "Issue a certificate for an approved submission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return withWriteDB(ctx, func(db *storage.DB, holder *sysconfig.Holder) error {
			c, err := certs.NewIssuer(db, holder, utils.Log).Issue(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s  issued %s  expires %s\n", c.CertificateNumber, c.IssuedAt.Format(time.RFC3339), c.ExpiresAt.Format(time.RFC3339))
			return nil
		})
	},
}

var certRevokeCmd = &cobra.Command{
	Use:   "revoke CERTIFICATE",
	Short: "Revoke a certificate by id or number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		ctx := context.Background()
		return withWriteDB(ctx, func(db *storage.DB, _ *sysconfig.Holder) error {
			id, err := certificateID(ctx, db, args[0])
			if err != nil {
				return err
			}
			c, err := certs.NewRevoker(db, utils.Log).Revoke(ctx, id, reason)
			if err != nil {
				return err
			}
			fmt.Printf("%s  revoked: %s\n", c.CertificateNumber, c.RevocationReason)
			return nil
		})
	},
}

var certListCmd = &cobra.Command{
	Use:   "list",
	Short: "List certificates with their current status",
	RunE: func(cmd *cobra.Command, args []string) error {
		submission, _ := cmd.Flags().GetString("submission")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		ctx := context.Background()
		return withReadDB(ctx, func(db *storage.DB, _ *sysconfig.Holder) error {
			list, err := db.ListCertificates(ctx, storage.CertificateFilter{
				SubmissionID: submission,
				Status:       storage.CertificateStatus(status),
				Limit:        limit,
			})
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No certificates found.")
				return nil
			}
			now := time.Now().UTC()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "NUMBER\tSTATUS\tPRODUCT\tORGANIZATION\tEXPIRES\t")
			for i := range list {
				c := &list[i]
				state := string(certs.Resolve(c, now).Status)
				if c.Demo {
					state += " (demo)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", c.CertificateNumber, state, c.ProductName, c.OrganizationName, c.ExpiresAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		})
	},
}

var certAttemptsCmd = &cobra.Command{
	Use:   "attempts [NUMBER]",
	Short: "Show public verification attempts, optionally for one certificate",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		number := ""
		if len(args) == 1 {
			number = certs.NormalizeNumber(args[0])
		}
		ctx := context.Background()
		return withReadDB(ctx, func(db *storage.DB, _ *sysconfig.Holder) error {
			attempts, err := db.ListVerificationAttempts(ctx, number, limit)
			if err != nil {
				return err
			}
			for _, a := range attempts {
				ts := a.AttemptedAt.Format("2006-01-02 15:04:05")
				fmt.Printf("%s  %-9s  %-17s  %-15s  %s\n", ts, a.Result, a.CertificateNumber, a.CallerAddress, a.UserAgent)
			}
			if number != "" {
				n, err := db.CountVerificationAttempts(ctx, number)
				if err != nil {
					return err
				}
				fmt.Printf("%d attempts in total\n", n)
			}
			return nil
		})
	},
}

var certPDFCmd = &cobra.Command{
	Use:   "pdf NUMBER",
	Short: "Render a certificate to PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")
		number := certs.NormalizeNumber(args[0])
		if !certs.ValidNumber(number) {
			return fmt.Errorf("%q is not a certificate number", args[0])
		}
		if out == "" {
			out = number + ".pdf"
		}
		ctx := context.Background()
		return withReadDB(ctx, func(db *storage.DB, holder *sysconfig.Holder) error {
			c, err := db.GetCertificateByNumber(ctx, number)
			if err != nil {
				return err
			}
			if res := certs.Resolve(c, time.Now().UTC()); !res.Valid {
				utils.Log.Warnf("%s is %s, rendering anyway", number, res.Status)
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			verifyURL := ""
			if base := strings.TrimRight(viper.GetString("server.public_url"), "/"); base != "" {
				verifyURL = base + "/api/verify/" + number
			}
			if err := render.Certificate(f, c, render.Options{IssuerName: holder.Current().IssuerName, VerifyURL: verifyURL}); err != nil {
				f.Close()
				os.Remove(out)
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", out)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(certCmd)
	certCmd.AddCommand(certIssueCmd, certRevokeCmd, certListCmd, certAttemptsCmd, certPDFCmd)

	certRevokeCmd.Flags().String("reason", "", "Why the certificate is revoked (required)")
	certListCmd.Flags().String("submission", "", "Only list certificates of this submission")
	certListCmd.Flags().String("status", "", "Only list certificates with this stored status (active, expired, revoked)")
	certListCmd.Flags().Int("limit", 100, "Maximum number of certificates to list")
	certAttemptsCmd.Flags().Int("limit", 100, "Maximum number of attempts to show")
	certPDFCmd.Flags().StringP("output", "o", "", "Output file (default: NUMBER.pdf)")
}
