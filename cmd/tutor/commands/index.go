package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/tutor-go/internal/audit"
	"github.com/54b3r/tutor-go/internal/logging"
)

// NewIndexCmd constructs the `tutor index` command group.
func NewIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the vector index",
	}
	cmd.AddCommand(newIndexClearCmd())
	return cmd
}

// newIndexClearCmd constructs `tutor index clear`.
func newIndexClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every chunk from the vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			rt, err := buildRuntime(ctx, log)
			if err != nil {
				return fmt.Errorf("index clear: %w", err)
			}
			defer rt.Close()

			if err := rt.svc.ClearIndex(ctx); err != nil {
				return fmt.Errorf("index clear: %w", err)
			}
			audit.LogAction(ctx, log, "index.clear", "cli")
			fmt.Fprintln(cmd.OutOrStdout(), "Index cleared. Questions will be answered without retrieval until documents are ingested again.")
			return nil
		},
	}
}
