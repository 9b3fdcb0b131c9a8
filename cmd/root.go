/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"slotmap/config"
)

var (
	cfgFile  string
	envFiles []string

	// v collects defaults, environment and bound flags; cfg and logger are
	// set from it before any subcommand runs.
	v      = config.New()
	cfg    *config.Config
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "slotmap",
	Short: "maps slots of source labware onto destination labware",
	Long: `slotmap builds and checks sample transfer plans between labware.

Settings are read from .env, an optional --config YAML file and SLOTMAP_*
environment variables, e.g. SLOTMAP_QC_URL or SLOTMAP_DIRECTION.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(envFiles...); err != nil {
			return err
		}
		c, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: c.LogLevel}))
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML)")
	flags.StringSliceVar(&envFiles, "env-file", nil, "env files to load instead of .env")
	flags.String("direction", "down-right", "traversal order for one-to-one mapping")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	_ = v.BindPFlag("direction", flags.Lookup("direction"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
}
