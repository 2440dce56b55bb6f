package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/prinzana/sellyticsOffline-sub004/internal/app"
	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
)

func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the terminal's saved session",
		Long: `The saved session decides which user and store the terminal acts for when
no bearer token is supplied, including background syncs.`,
	}

	cmd.AddCommand(newSessionSetCommand(rootOpts))
	cmd.AddCommand(newSessionShowCommand(rootOpts))
	cmd.AddCommand(newSessionClearCommand(rootOpts))
	cmd.AddCommand(newSessionSignCommand(rootOpts))

	return cmd
}

func newSessionSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "set <token>",
		Short:         "Validate a session token and save it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *app.Runtime) error {
				id, err := rt.Resolver.SaveSession(ctx, args[0])
				if err != nil {
					return err
				}
				return out.Success(id, func(w io.Writer) { writeIdentity(w, id) })
			})
		},
	}
}

func newSessionShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the identity of the saved session",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			return withIdentity(cmd, rootOpts, func(ctx context.Context, rt *app.Runtime, id domain.Identity) error {
				return out.Success(id, func(w io.Writer) { writeIdentity(w, id) })
			})
		},
	}
}

func newSessionClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear",
		Short:         "Forget the saved session",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Resolver.ClearSession(ctx); err != nil {
					return err
				}
				return out.Success(map[string]bool{"cleared": true}, func(w io.Writer) {
					fmt.Fprintln(w, "session cleared")
				})
			})
		},
	}
}

type signOptions struct {
	userID  string
	email   string
	storeID string
	owner   bool
	ttl     time.Duration
	save    bool
}

// newSessionSignCommand issues a token with SESSION_SECRET for terminals
// that are not provisioned by the back office.
func newSessionSignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &signOptions{}

	cmd := &cobra.Command{
		Use:           "sign",
		Short:         "Issue a session token signed with SESSION_SECRET",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.userID == "" {
				return NewExitError(ExitCommandError, "--user is required")
			}
			out := formatter(cmd, rootOpts)
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *app.Runtime) error {
				storeID := opts.storeID
				if storeID == "" {
					storeID = rt.Config.StoreID
				}
				if storeID == "" {
					return domain.ConfigurationError("session.sign", "no store: pass --store or set DEFAULT_STORE_ID")
				}
				id := domain.Identity{UserID: opts.userID, UserEmail: opts.email, StoreID: storeID, IsOwner: opts.owner}
				token, err := rt.Resolver.Sign(id, opts.ttl)
				if err != nil {
					return err
				}
				if opts.save {
					if _, err := rt.Resolver.SaveSession(ctx, token); err != nil {
						return err
					}
				}
				return out.Success(map[string]any{"token": token, "identity": id, "saved": opts.save}, func(w io.Writer) {
					fmt.Fprintln(w, token)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.userID, "user", "", "user id")
	cmd.Flags().StringVar(&opts.email, "email", "", "user email")
	cmd.Flags().StringVar(&opts.storeID, "store", "", "store id (default DEFAULT_STORE_ID)")
	cmd.Flags().BoolVar(&opts.owner, "owner", false, "issue an owner token")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 12*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&opts.save, "save", false, "also save the token as this terminal's session")

	return cmd
}

func writeIdentity(w io.Writer, id domain.Identity) {
	role := "staff"
	if id.IsOwner {
		role = "owner"
	}
	fmt.Fprintf(w, "user %s (%s) in store %s\n", id.UserID, role, id.StoreID)
}
