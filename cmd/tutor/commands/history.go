package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/tutor-go/internal/audit"
	"github.com/54b3r/tutor-go/internal/logging"
	"github.com/54b3r/tutor-go/internal/memory"
	"github.com/54b3r/tutor-go/internal/store"
)

// NewHistoryCmd constructs the `tutor history` command group.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or clear the conversation history",
	}
	cmd.AddCommand(newHistoryShowCmd(), newHistoryClearCmd())
	return cmd
}

// newHistoryShowCmd constructs `tutor history show`.
func newHistoryShowCmd() *cobra.Command {
	var last int

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the most recent conversation turns",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			rt, err := buildRuntime(ctx, log)
			if err != nil {
				return fmt.Errorf("history show: %w", err)
			}
			defer rt.Close()

			var turns []memory.Turn
			if rt.history != nil && last > 0 {
				turns, err = rt.history.Recent(ctx, store.DefaultThread, last)
				if err != nil {
					return fmt.Errorf("history show: %w", err)
				}
			} else {
				turns = rt.svc.Conversation()
			}

			out := cmd.OutOrStdout()
			if len(turns) == 0 {
				fmt.Fprintln(out, "No conversation history.")
				return nil
			}
			for _, t := range turns {
				fmt.Fprintf(out, "[%s] %s: %s\n", t.CreatedAt.Local().Format(time.DateTime), t.Role, t.Content)
				if len(t.Sources) > 0 {
					fmt.Fprintf(out, "    sources: %s\n", strings.Join(t.Sources, ", "))
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&last, "last", "n", 20, "Number of most recent turns to show (0 for all)")
	return cmd
}

// newHistoryClearCmd constructs `tutor history clear`.
func newHistoryClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the conversation history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			rt, err := buildRuntime(ctx, log)
			if err != nil {
				return fmt.Errorf("history clear: %w", err)
			}
			defer rt.Close()

			if err := rt.svc.ClearConversation(ctx); err != nil {
				return fmt.Errorf("history clear: %w", err)
			}
			audit.LogAction(ctx, log, "conversation.clear", "cli")
			fmt.Fprintln(cmd.OutOrStdout(), "Conversation history cleared.")
			return nil
		},
	}
}
