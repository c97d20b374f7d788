package main

import (
	"context"
	"os"

	"github.com/jingkaihe/skillman/pkg/config"
	"github.com/jingkaihe/skillman/pkg/logger"
	"github.com/jingkaihe/skillman/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg             *config.Config
	shutdownTracing = func(context.Context) error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "skillman",
	Short: "Find, resolve and install agent skill packages",
	Long: `skillman discovers skill packages (directories holding a SKILL.md) across the
project, personal and superpowers layers, resolves skill identifiers the way
agents do, and installs packages into a destination directory.

Run without a subcommand to open the interactive installer.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		configFile, _ := cmd.Flags().GetString("config")
		if err := config.Init(viper.GetViper(), configFile); err != nil {
			return err
		}
		loaded, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		cfg = loaded

		quiet, _ := cmd.Flags().GetBool("quiet")
		presenter.SetQuiet(quiet)

		if err := logger.SetLogLevel(cfg.LogLevel); err != nil {
			return errors.Wrap(err, "invalid log level")
		}
		logger.SetLogFormat(cfg.LogFormat)

		shutdown, err := initTracing(cmd.Context(), cfg)
		if err != nil {
			return errors.Wrap(err, "failed to initialize tracing")
		}
		shutdownTracing = shutdown
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		tuiCmd.Run(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default $HOME/.skillman/config.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (panic, fatal, error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().String("log-format", "fmt", "Log format (fmt or json)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Only print tables, data and errors")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(withTracing(tuiCmd))
	rootCmd.AddCommand(withTracing(listCmd))
	rootCmd.AddCommand(withTracing(resolveCmd))
	rootCmd.AddCommand(withTracing(showCmd))
	rootCmd.AddCommand(withTracing(installedCmd))
	rootCmd.AddCommand(withTracing(installCmd))
	rootCmd.AddCommand(withTracing(removeCmd))
	rootCmd.AddCommand(withTracing(syncCmd))
	rootCmd.AddCommand(withTracing(updateCmd))
	rootCmd.AddCommand(withTracing(historyCmd))
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx := context.Background()
	err := rootCmd.ExecuteContext(ctx)

	if shutdownErr := shutdownTracing(ctx); shutdownErr != nil {
		logger.G(ctx).WithError(shutdownErr).Warn("failed to flush traces")
	}
	logger.CloseLogFile()

	if err != nil {
		presenter.Error(err, "skillman failed")
		os.Exit(1)
	}
}
