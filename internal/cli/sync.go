package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/prinzana/sellyticsOffline-sub004/internal/app"
	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
)

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push the pending queue to the system of record",
		Long: `Sync pushes every queued sale of the saved session's store, oldest first.
Failed entries are left for "queue retry". Exits 1 when any entry failed
and 3 when the system of record is unreachable.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, rootOpts)
		},
	}

	return cmd
}

func runSync(cmd *cobra.Command, opts *RootOptions) error {
	out := formatter(cmd, opts)
	return withIdentity(cmd, opts, func(ctx context.Context, rt *app.Runtime, id domain.Identity) error {
		out.VerboseLog("syncing store %s as %s", id.StoreID, id.UserID)
		report, err := rt.Engine.SyncAll(ctx, id)
		if err != nil {
			return err
		}
		if err := out.Success(report, func(w io.Writer) { writeReport(w, report) }); err != nil {
			return err
		}
		switch {
		case report.Offline:
			return NewExitError(ExitOffline, "system of record unreachable, queue kept")
		case report.Failed > 0:
			return NewExitError(ExitFailure, fmt.Sprintf("%d entries failed", report.Failed))
		}
		return nil
	})
}

func writeReport(w io.Writer, report domain.SyncReport) {
	if report.Offline {
		fmt.Fprintln(w, "offline: nothing pushed")
		return
	}
	for _, entry := range report.Entries {
		if entry.Error != "" {
			fmt.Fprintf(w, "%-40s %-8s %s: %s\n", entry.ClientRef, entry.State, entry.ErrorKind, entry.Error)
			continue
		}
		fmt.Fprintf(w, "%-40s %s\n", entry.ClientRef, entry.State)
	}
	fmt.Fprintf(w, "synced %d, failed %d (%d/%d)\n", report.Synced, report.Failed, report.Progress.Current, report.Progress.Total)
}
