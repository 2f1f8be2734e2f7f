package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/osicert/osicert/internal/utils"
	"github.com/osicert/osicert/pkg/storage"
	"github.com/osicert/osicert/pkg/sysconfig"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the system configuration stored in the database",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current system configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withReadDB(context.Background(), func(_ *storage.DB, holder *sysconfig.Holder) error {
			return printJSON(holder.Current())
		})
	},
}

// parsePatch turns key=value arguments into a Patch.
func parsePatch(args []string) (sysconfig.Patch, error) {
	var patch sysconfig.Patch
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return patch, fmt.Errorf("expected key=value, got %q", arg)
		}
		if err := patch.Set(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return patch, err
		}
	}
	return patch, nil
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY=VALUE...",
	Short: "Change one or more system configuration values",
	Long: `Change one or more system configuration values. Keys:

  demoMode, presentationMode, acceleratedExpiry   true|false
  acceleratedValidity                              duration, e.g. 10m
  validityYears                                    1-10
  issuerName                                       text`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := parsePatch(args)
		if err != nil {
			return err
		}
		ctx := context.Background()
		return withWriteDB(ctx, func(_ *storage.DB, holder *sysconfig.Holder) error {
			if _, err := patch.ApplyTo(holder.Current()); err != nil {
				return err
			}
			cfg, err := holder.Apply(ctx, func(c sysconfig.SystemConfig) sysconfig.SystemConfig {
				next, _ := patch.ApplyTo(c)
				return next
			})
			if err != nil {
				return err
			}
			utils.Log.Infof("System configuration updated")
			return printJSON(cfg)
		})
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
