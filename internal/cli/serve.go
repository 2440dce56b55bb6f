package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/prinzana/sellyticsOffline-sub004/internal/app"
	"github.com/prinzana/sellyticsOffline-sub004/internal/config"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var insecure bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the terminal API with background sync",
		Long: `Serve the local terminal API on 127.0.0.1:$PORT and drain the pending
queue on AUTO_SYNC_SCHEDULE and whenever the system of record comes back.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts, insecure)
		},
	}

	cmd.Flags().BoolVar(&insecure, "insecure", false, "skip SESSION_SECRET and MANAGER_PIN checks (development only)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *RootOptions, insecure bool) error {
	if !insecure {
		if err := validateSecurityConfig(config.Load()); err != nil {
			return WrapExitError(ExitCommandError, "invalid security configuration", err)
		}
	}

	var fxOpts []fx.Option
	if opts.Verbose {
		fxOpts = append(fxOpts, fx.Decorate(func(cfg config.Config) config.Config {
			cfg.LogLevel = "debug"
			return cfg
		}))
	}
	fxOpts = append(fxOpts, app.ServerModule(), app.SchedulerModule())
	application := app.New(fxOpts...)

	startCtx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	if err := application.Start(startCtx); err != nil {
		return WrapExitError(ExitFailure, "start terminal", err)
	}

	<-application.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := application.Stop(stopCtx); err != nil {
		return WrapExitError(ExitFailure, "stop terminal", err)
	}
	return nil
}
