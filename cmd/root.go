// Package cmd wires the xtmix command line.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/xtmix/cmd/config"
	"github.com/tphakala/xtmix/cmd/devices"
	"github.com/tphakala/xtmix/cmd/run"
	"github.com/tphakala/xtmix/internal/conf"
	"github.com/tphakala/xtmix/internal/errors"
	"github.com/tphakala/xtmix/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand(v *viper.Viper) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "xtmix",
		Short:         "xtmix audio stream mixer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().String("loglevel", "", "Log level (trace, debug, info, warn, error)")
	_ = v.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("loglevel"))

	configCmd := config.Command()
	rootCmd.AddCommand(
		devices.Command(),
		run.Command(v),
		configCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// config init must work without a readable config file.
		if cmd.Parent() == configCmd {
			return nil
		}
		settings, err := conf.Load(v, configPath)
		if err != nil {
			return err
		}
		return initialize(settings)
	}

	return rootCmd
}

// initialize applies logging and telemetry settings before a subcommand runs.
func initialize(settings *conf.Settings) error {
	level, err := logging.ParseLevel(settings.Log.Level)
	if err != nil {
		return err
	}
	if settings.Debug && level > slog.LevelDebug {
		level = slog.LevelDebug
	}
	logging.SetLevel(level)

	if settings.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         settings.Sentry.DSN,
			Environment: settings.Sentry.Environment,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	}
	return nil
}
