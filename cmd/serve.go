package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/osicert/osicert/internal/server"
	"github.com/osicert/osicert/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the osicert HTTP API",
	Long: `Start the HTTP API used by manufacturers, administrators and the public
verification page. Submission and admin routes sit behind basic auth when a
username or password is configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, holder, err := openDB(context.Background())
		if err != nil {
			return err
		}
		defer db.Close()

		cfg := holder.Current()
		utils.Log.Infof("Issuer %q, demo=%t presentation=%t accelerated=%t", cfg.IssuerName, cfg.DemoMode, cfg.PresentationMode, cfg.AcceleratedExpiry)

		srv := server.New(db, holder, viper.GetString("server.username"), viper.GetString("server.password"))
		srv.PublicURL = strings.TrimRight(viper.GetString("server.public_url"), "/")
		if srv.Username == "" && srv.Password == "" {
			utils.Log.Warn("No basic auth configured, submission and admin routes rely on the fronting proxy alone")
		}
		return srv.Start(viper.GetString("server.bind"))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("bind", "b", ":9999", "Address to bind the server to")
	serveCmd.Flags().StringP("username", "u", "", "Username for basic auth (optional)")
	serveCmd.Flags().StringP("password", "p", "", "Password for basic auth (optional)")
	serveCmd.Flags().String("public-url", "", "Base URL printed on certificates for verification (e.g. https://osi.example)")

	viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.username", serveCmd.Flags().Lookup("username"))
	viper.BindPFlag("server.password", serveCmd.Flags().Lookup("password"))
	viper.BindPFlag("server.public_url", serveCmd.Flags().Lookup("public-url"))
}
