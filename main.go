package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"xnat-importer/constants"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

func initConfigs(env string) {
	viper.AddConfigPath("conf")
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	viper.AutomaticEnv()
	replacer := strings.NewReplacer(".", "__")
	viper.SetEnvKeyReplacer(replacer)
	setDefaults()
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("Error reading config file, %s", err)
		}
	}
}

func setDefaults() {
	viper.SetDefault(constants.KeyBaseURL, constants.DefaultBaseURL)
	viper.SetDefault(constants.KeyHTTPTimeout, constants.DefaultHTTPTimeout)
	viper.SetDefault(constants.KeyInsecureSkipVerify, true)
	viper.SetDefault(constants.KeyMode, constants.ModePath)
	viper.SetDefault(constants.KeyWorkers, 1)
	viper.SetDefault(constants.KeyRetryAttempts, constants.DefaultRetryAttempts)
	viper.SetDefault(constants.KeyRetryDelay, constants.DefaultRetryDelay)
	viper.SetDefault(constants.KeyConfigName, constants.DefaultConfigName)
	viper.SetDefault(constants.KeySchema, constants.DefaultSchemaPath)
	viper.SetDefault(constants.KeyRootElement, constants.DefaultRootName)
	viper.SetDefault(constants.KeyXmllint, constants.DefaultXmllint)
	viper.SetDefault(constants.KeyFailCSV, constants.DefaultFailCSV)
	viper.SetDefault(constants.KeyLockTTL, constants.DefaultLockTTL)
	viper.SetDefault(constants.KeyESIndexPrefix, "xnat_importer")
}

func newRootCmd(exitCode *int) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "xnat-importer",
		Short:         "Import a tree of imaging files into XNAT",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run [root]",
		Short: "Import every project directory below root (default: current directory)",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			*exitCode = runImport(cmd.Context(), root)
		},
	}
	flags := runCmd.Flags()
	flags.String("mode", constants.ModePath, "identity mode: path or content")
	flags.Int("workers", 1, "number of top-level directories imported concurrently")
	flags.String("fail-csv", constants.DefaultFailCSV, "where to write the failure report")
	flags.Duration("timeout", 0, "abort the run after this long, 0 for no limit")
	viper.BindPFlag(constants.KeyMode, flags.Lookup("mode"))
	viper.BindPFlag(constants.KeyWorkers, flags.Lookup("workers"))
	viper.BindPFlag(constants.KeyFailCSV, flags.Lookup("fail-csv"))
	viper.BindPFlag(constants.KeyRunTimeout, flags.Lookup("timeout"))

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)
	return rootCmd
}

func main() {
	env := "development"
	if value, found := os.LookupEnv(constants.ENV); found {
		env = value
	}
	initConfigs(env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	exitCode := constants.ExitOK
	err := newRootCmd(&exitCode).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(constants.ExitAborted)
	}
	os.Exit(exitCode)
}
