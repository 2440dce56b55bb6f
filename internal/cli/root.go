// Package cli is the kasirsync command line.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/prinzana/sellyticsOffline-sub004/internal/app"
	"github.com/prinzana/sellyticsOffline-sub004/internal/config"
	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "kasirsync",
		Short: "Offline-first point-of-sale terminal",
		Long: `kasirsync runs a point-of-sale terminal that keeps selling while the
system of record is unreachable and syncs the queued sales once it is back.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewWarmupCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewSessionCommand(opts))

	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	format, _ := cmd.PersistentFlags().GetString("format")
	out := &OutputFormatter{Format: format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr()}
	out.Error(err)
	return GetExitCode(err)
}

// runtimeFunc is the body of a one-shot command.
type runtimeFunc func(ctx context.Context, rt *app.Runtime) error

// withRuntime boots the component graph quietly unless --verbose is set.
func withRuntime(cmd *cobra.Command, opts *RootOptions, fn runtimeFunc) error {
	level := fx.Decorate(func(cfg config.Config) config.Config {
		if opts.Verbose {
			cfg.LogLevel = "debug"
		} else {
			cfg.LogLevel = "warn"
		}
		return cfg
	})
	err := app.Run(cmd.Context(), fn, level)
	if err != nil {
		return WrapExitError(exitCodeFor(err), "command failed", err)
	}
	return nil
}

// withIdentity additionally resolves the saved session.
func withIdentity(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, rt *app.Runtime, id domain.Identity) error) error {
	return withRuntime(cmd, opts, func(ctx context.Context, rt *app.Runtime) error {
		id, err := rt.Resolver.Resolve(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, rt, id)
	})
}

func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
