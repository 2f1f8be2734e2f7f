package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/osicert/osicert/pkg/osi"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Validate an OSI record without storing it",
	Long: `Validate an OSI record read from FILE ("-" for stdin) and print every problem found.
With --draft only the draft requirements are checked.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		draft, _ := cmd.Flags().GetBool("draft")
		asJSON, _ := cmd.Flags().GetBool("json")

		raw, err := readInput(args[0])
		if err != nil {
			return err
		}
		doc, err := osi.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		res := osi.Validate(doc, draft)
		if asJSON {
			if err := printJSON(res); err != nil {
				return err
			}
		} else {
			printResult(res, osi.ModeFor(draft))
		}
		if !res.Valid {
			return fmt.Errorf("record is not valid (%d problems)", len(res.Errors))
		}
		return nil
	},
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}

func printResult(res osi.Result, mode osi.Mode) {
	if res.Valid {
		fmt.Printf("Record is valid (%s)\n", mode)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FIELD\tPROBLEM\t")
	for _, e := range res.Errors {
		field := e.Field
		if field == "" {
			field = "(record)"
		}
		fmt.Fprintf(w, "%s\t%s\t\n", field, e.Message)
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().Bool("draft", false, "Only check what a draft needs")
	validateCmd.Flags().Bool("json", false, "Print the result as JSON")
}
