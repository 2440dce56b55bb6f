package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/prinzana/sellyticsOffline-sub004/internal/app"
	"github.com/prinzana/sellyticsOffline-sub004/internal/domain"
)

func NewWarmupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "warmup",
		Short:         "Refresh the local cache from the system of record",
		Long:          "Warmup pulls products, inventory, customers and synced sales of the session's store into the local cache.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			return withIdentity(cmd, rootOpts, func(ctx context.Context, rt *app.Runtime, id domain.Identity) error {
				report, err := rt.Service.WarmCache(ctx, id)
				if err != nil {
					return err
				}
				return out.Success(report, func(w io.Writer) {
					fmt.Fprintf(w, "cached %d products, %d inventory rows, %d customers, %d sales\n",
						report.Products, report.Inventory, report.Customers, report.Sales)
				})
			})
		},
	}

	return cmd
}
