package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/osicert/osicert/internal/utils"
	"github.com/osicert/osicert/pkg/storage"
	"github.com/osicert/osicert/pkg/sysconfig"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `	             _               _
	  ___  ___  (_) ___ ___ _ __| |_
	 / _ \/ __| | |/ __/ _ \ '__| __|
	| (_) \__ \ | | (_|  __/ |  | |_
	 \___/|___/ |_|\___\___|_|   \__|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "osicert",
	Short: "Validate, review and certify OSI supplement records.",
	Long: LOGO + `osicert takes manufacturers' OSI supplement records from draft to an approved,
numbered certificate that anyone can verify.

Run "osicert serve" for the HTTP API, or use the subcommands to work on the database directly.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.osicert.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file (default: ~/.config/osicert/osicert.sqlite)")
	viper.BindPFlag("db.path", rootCmd.PersistentFlags().Lookup("dbpath"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".osicert")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("osicert")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("db.path", "")
	viper.SetDefault("db.timeout", storage.DefaultDBTimeout)
	viper.SetDefault("server.bind", ":9999")
	viper.SetDefault("server.username", "")
	viper.SetDefault("server.password", "")
	viper.SetDefault("server.public_url", "")
	viper.SetDefault("certificate.validity_years", sysconfig.DefaultValidityYears)
	viper.SetDefault("certificate.accelerated_validity", sysconfig.DefaultAcceleratedValidity)
	viper.SetDefault("certificate.issuer_name", sysconfig.DefaultIssuerName)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.osicert.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				utils.Log.Debugf("Could not create config file: %s", err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	if err := utils.SetLogLevel(levelString); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configDefaults is the system configuration used until an administrator
// persists one.
func configDefaults() sysconfig.SystemConfig {
	cfg := sysconfig.Defaults()
	cfg.ValidityYears = viper.GetInt("certificate.validity_years")
	cfg.AcceleratedValidity = viper.GetDuration("certificate.accelerated_validity")
	cfg.IssuerName = viper.GetString("certificate.issuer_name")
	return cfg
}

// openDB opens the configured database and loads its system configuration.
func openDB(ctx context.Context) (*storage.DB, *sysconfig.Holder, error) {
	path, err := utils.GetAbsDBPath(viper.GetString("db.path"))
	if err != nil {
		return nil, nil, err
	}
	utils.Log.Debugf("Using database %s", path)

	db, err := storage.Open(path, viper.GetDuration("db.timeout"))
	if err != nil {
		return nil, nil, err
	}
	holder := sysconfig.NewHolder(db, configDefaults())
	if _, err := holder.Reload(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, holder, nil
}

// withWriteDB runs fn against the database while holding the write lock.
func withWriteDB(ctx context.Context, fn func(db *storage.DB, holder *sysconfig.Holder) error) error {
	return utils.WithDBLock(viper.GetString("db.path"), func() error {
		db, holder, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(db, holder)
	})
}

// withReadDB runs fn against the database without taking the write lock.
func withReadDB(ctx context.Context, fn func(db *storage.DB, holder *sysconfig.Holder) error) error {
	db, holder, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db, holder)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
