package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/osicert/osicert/internal/utils"
	"github.com/osicert/osicert/pkg/storage"
	"github.com/osicert/osicert/pkg/sysconfig"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the osicert database",
}

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive shell to the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, err := utils.GetAbsDBPath(viper.GetString("db.path"))
		if err != nil {
			return err
		}

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database file not found: %s", dbPath)
		}

		// Check if sqlite3 is in PATH
		sqlitePath, err := exec.LookPath("sqlite3")
		if err != nil {
			return fmt.Errorf("sqlite3 command not found in your PATH. Please install it to use the db shell")
		}

		// Print schema first
		fmt.Println("--> Database schema:")
		schemaCmd := exec.Command(sqlitePath, dbPath, ".schema")
		schemaCmd.Stdout = os.Stdout
		schemaCmd.Stderr = os.Stderr
		if err := schemaCmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: couldn't retrieve schema: %v\n", err)
		}
		fmt.Println("\n--> Starting interactive shell... (Ctrl+D to exit)")

		c := exec.Command(sqlitePath, dbPath)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr

		return c.Run()
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints submission, certificate and verification counts per status.",
	Long:  "Prints submission, certificate and verification counts per status. Active certificates past their expiry count as expired.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return withReadDB(ctx, func(db *storage.DB, _ *sysconfig.Holder) error {
			stats, err := db.GetStats(ctx)
			if err != nil {
				return err
			}

			if len(stats) == 0 {
				fmt.Println("No data in the database to generate stats.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
			fmt.Fprintln(w, "KIND\tSTATUS\tCOUNT\t")

			totals := map[string]int{}
			var kinds []string
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%s\t%d\t\n", s.Kind, s.Status, s.Count)
				if _, seen := totals[s.Kind]; !seen {
					kinds = append(kinds, s.Kind)
				}
				totals[s.Kind] += s.Count
			}

			fmt.Fprintln(w, " \t \t \t")
			for _, k := range kinds {
				fmt.Fprintf(w, "%s\tTOTAL\t%d\t\n", k, totals[k])
			}

			return w.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(shellCmd)
	dbCmd.AddCommand(statsCmd)
}
