package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/GoCodeAlone/ctrlloop/config"
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	var (
		configPath string
		maxTicks   int64
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the control loop",
		Long: `Load the configured modules and tick them until interrupted, until a
module requests a stop or until --max-ticks ticks have run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-ticks") {
				cfg.Loop.MaxTicks = maxTicks
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}

			app, err := NewApp(cfg, WithConfigPath(configPath), WithEventWriter(cmd.OutOrStdout()))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file (.yaml, .yml or .toml)")
	cmd.Flags().Int64Var(&maxTicks, "max-ticks", 0, "Stop after this many ticks (0 runs until interrupted)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}
