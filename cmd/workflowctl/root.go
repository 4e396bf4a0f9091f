package main

import (
	"fmt"

	"github.com/amp-labs/workflow-core/config"
	"github.com/amp-labs/workflow-core/logger"
	"github.com/amp-labs/workflow-core/telemetry"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const subsystem = "workflowctl"

// app carries what the root command loads for its subcommands.
type app struct {
	configPath string
	envFiles   []string
	settings   *viper.Viper
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{settings: viper.New()}

	root := &cobra.Command{
		Use:           "workflowctl",
		Short:         "Validate, render and run workflow definitions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if len(a.envFiles) > 0 {
				if err := godotenv.Load(a.envFiles...); err != nil {
					return fmt.Errorf("loading env files: %w", err)
				}
			}

			cfg, err := config.LoadFrom(a.settings, a.configPath)
			if err != nil {
				return err
			}

			a.cfg = cfg

			opts := cfg.LoggerOptions(subsystem)
			opts.Output = cmd.ErrOrStderr()
			logger.ConfigureLoggingWithOptions(opts)

			ctx := logger.WithSubsystem(cmd.Context(), subsystem)
			cmd.SetContext(ctx)

			return telemetry.Initialize(ctx, cfg.Telemetry)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return telemetry.Shutdown(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "configuration file (YAML)")
	flags.StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files loaded before the configuration; set variables win")
	flags.String("log-level", "info", "minimum log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "write logs as JSON")
	flags.Bool("debug", false, "log the workflow context after every transition")
	flags.Int("max-callback-depth", 0, "maximum nested callback events per SendEvent (0 is unlimited)")

	_ = a.settings.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = a.settings.BindPFlag("logging.json", flags.Lookup("log-json"))
	_ = a.settings.BindPFlag("runner.debug", flags.Lookup("debug"))
	_ = a.settings.BindPFlag("runner.maxCallbackDepth", flags.Lookup("max-callback-depth"))

	root.AddCommand(
		newValidateCmd(a),
		newGraphCmd(),
		newRunCmd(a),
	)

	return root
}
