package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/prinzana/sellyticsOffline-sub004/internal/app"
	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
	"github.com/prinzana/sellyticsOffline-sub004/internal/httpapi"
	"github.com/prinzana/sellyticsOffline-sub004/internal/service"
)

func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the pending sales queue",
	}

	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueClearCommand(rootOpts))
	cmd.AddCommand(newQueueRetryCommand(rootOpts))
	cmd.AddCommand(newQueueDeleteCommand(rootOpts))

	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List queued sales visible to the session",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			return withIdentity(cmd, rootOpts, func(ctx context.Context, rt *app.Runtime, id domain.Identity) error {
				views, err := rt.Service.PendingSales(ctx, id)
				if err != nil {
					return err
				}
				return out.Success(views, func(w io.Writer) { writeQueue(w, views) })
			})
		},
	}
}

func newQueueClearCommand(rootOpts *RootOptions) *cobra.Command {
	var pin string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every unsynced sale of the store",
		Long: `Clear removes all unsynced sales of the session's store from this terminal
and restores their stock in the local cache. Nothing is sent to the system of
record. Requires an owner session and, when configured, the manager PIN.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			return withIdentity(cmd, rootOpts, func(ctx context.Context, rt *app.Runtime, id domain.Identity) error {
				guard := httpapi.NewPINGuard(rt.Config.ManagerPIN)
				if guard.Enabled() && !guard.Validate(pin) {
					return domain.PermissionError("queue.clear", "manager PIN required")
				}
				removed, err := rt.Engine.ClearQueue(ctx, id)
				if err != nil {
					return err
				}
				return out.Success(map[string]int{"removed": removed}, func(w io.Writer) {
					fmt.Fprintf(w, "removed %d queued sales\n", removed)
				})
			})
		},
	}

	cmd.Flags().StringVar(&pin, "pin", "", "manager PIN")

	return cmd
}

func newQueueRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "retry <client-ref>",
		Short:         "Put a failed sale back in the queue for the next sync",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			return withIdentity(cmd, rootOpts, func(ctx context.Context, rt *app.Runtime, id domain.Identity) error {
				if err := rt.Engine.RetryEntry(ctx, id, args[0]); err != nil {
					return err
				}
				return out.Success(map[string]string{"client_ref": args[0], "state": string(domain.SyncStateCreated)}, func(w io.Writer) {
					fmt.Fprintf(w, "%s queued for the next sync\n", args[0])
				})
			})
		},
	}
}

func newQueueDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <client-ref>",
		Short:         "Delete one queued sale that never reached the system of record",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			return withIdentity(cmd, rootOpts, func(ctx context.Context, rt *app.Runtime, id domain.Identity) error {
				if err := rt.Service.DeletePending(ctx, id, args[0]); err != nil {
					return err
				}
				return out.Success(map[string]string{"deleted": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "deleted %s\n", args[0])
				})
			})
		},
	}
}

func writeQueue(w io.Writer, views []service.SaleView) {
	if len(views) == 0 {
		fmt.Fprintln(w, "queue is empty")
		return
	}
	for _, v := range views {
		line := fmt.Sprintf("%-40s %-8s %12d %s", v.ClientRef, v.State, v.Group.TotalAmountCents, v.Group.CreatedAt.Format("2006-01-02 15:04"))
		if v.LastError != "" {
			line += "  " + v.LastError
		}
		fmt.Fprintln(w, line)
	}
}
