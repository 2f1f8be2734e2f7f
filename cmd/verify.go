package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/osicert/osicert/internal/utils"
	"github.com/osicert/osicert/pkg/certs"
	"github.com/osicert/osicert/pkg/storage"
	"github.com/osicert/osicert/pkg/sysconfig"
	"github.com/osicert/osicert/pkg/whttp"
)

var verifyCmd = &cobra.Command{
	Use:   "verify NUMBER",
	Short: "Verify a certificate number",
	Long: `Verify a certificate number against the local database, or against a running
osicert server with --remote. Every local lookup is recorded as a verification attempt.
The command exits non-zero unless the certificate is valid.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetString("remote")
		asJSON, _ := cmd.Flags().GetBool("json")

		var (
			res certs.Result
			err error
		)
		if remote != "" {
			retries, _ := cmd.Flags().GetInt("retries")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			res, err = verifyRemote(remote, args[0], retries, timeout)
		} else {
			res, err = verifyLocal(args[0])
		}
		if err != nil {
			return err
		}

		if asJSON {
			if err := printJSON(res); err != nil {
				return err
			}
		} else {
			printVerification(res)
		}
		if !res.Valid {
			os.Exit(2)
		}
		return nil
	},
}

func verifyLocal(number string) (certs.Result, error) {
	var res certs.Result
	ctx := context.Background()
	err := withWriteDB(ctx, func(db *storage.DB, holder *sysconfig.Holder) error {
		var err error
		res, err = certs.NewResolver(db, holder, utils.Log).Verify(ctx, number, certs.Caller{Address: "local", UserAgent: whttp.UserAgent})
		return err
	})
	return res, err
}

func verifyRemote(base, number string, retries int, timeout time.Duration) (certs.Result, error) {
	endpoint := strings.TrimRight(base, "/") + "/api/verify/" + url.PathEscape(strings.TrimSpace(number))
	utils.Log.Debugf("GET %s", endpoint)

	res, err := whttp.SendHTTPRequest(&whttp.WHTTPReq{URL: endpoint, Method: http.MethodGet}, whttp.NewClient(retries, timeout))
	if err != nil {
		return certs.Result{}, err
	}
	if res.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(res.Body, "error").String()
		if msg == "" {
			msg = res.Status
		}
		return certs.Result{}, fmt.Errorf("verification server: %s", msg)
	}
	return parseVerification(res.Body)
}

// parseVerification reads a verification response body.
func parseVerification(body []byte) (certs.Result, error) {
	if !gjson.ValidBytes(body) {
		return certs.Result{}, fmt.Errorf("verification server returned invalid JSON")
	}
	doc := gjson.ParseBytes(body)
	res := certs.Result{
		Valid:   doc.Get("valid").Bool(),
		Status:  certs.Status(doc.Get("status").String()),
		Message: doc.Get("message").String(),
	}
	if c := doc.Get("certificate"); c.IsObject() {
		pub := &certs.PublicCertificate{
			CertificateNumber: c.Get("certificateNumber").String(),
			ProductName:       c.Get("productName").String(),
			OrganizationName:  c.Get("organizationName").String(),
			Demo:              c.Get("demo").Bool(),
			IssuedAt:          c.Get("issuedAt").Time(),
			ExpiresAt:         c.Get("expiresAt").Time(),
			RevocationReason:  c.Get("revocationReason").String(),
		}
		if r := c.Get("revokedAt"); r.Exists() {
			t := r.Time()
			pub.RevokedAt = &t
		}
		res.Certificate = pub
	}
	return res, nil
}

func printVerification(res certs.Result) {
	fmt.Printf("%s: %s\n", strings.ToUpper(string(res.Status)), res.Message)
	c := res.Certificate
	if c == nil {
		return
	}
	fmt.Printf("  Number:   %s\n", c.CertificateNumber)
	if c.ProductName != "" {
		fmt.Printf("  Product:  %s\n", c.ProductName)
	}
	if c.OrganizationName != "" {
		fmt.Printf("  Holder:   %s\n", c.OrganizationName)
	}
	fmt.Printf("  Issued:   %s\n", c.IssuedAt.Format(time.RFC3339))
	fmt.Printf("  Expires:  %s\n", c.ExpiresAt.Format(time.RFC3339))
	if c.RevokedAt != nil {
		fmt.Printf("  Revoked:  %s (%s)\n", c.RevokedAt.Format(time.RFC3339), c.RevocationReason)
	}
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().String("remote", "", "Base URL of an osicert server to verify against (e.g. https://osi.example)")
	verifyCmd.Flags().Int("retries", 3, "Retries for --remote requests")
	verifyCmd.Flags().Duration("timeout", 10*time.Second, "Timeout of each --remote request")
	verifyCmd.Flags().Bool("json", false, "Print the result as JSON")
}
