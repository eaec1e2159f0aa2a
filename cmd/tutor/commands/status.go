package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/tutor-go/internal/logging"
)

// NewStatusCmd constructs the `tutor status` command.
func NewStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether retrieval is available and what is configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			rt, err := buildRuntime(ctx, log)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer rt.Close()

			st := rt.svc.Status(ctx)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "state:\t%s\n", st.State)
			if st.Reason != "" {
				fmt.Fprintf(tw, "reason:\t%s\n", st.Reason)
			}
			fmt.Fprintf(tw, "documents dir:\t%s\n", st.DocsDir)
			fmt.Fprintf(tw, "indexed chunks:\t%d\n", st.Chunks)
			fmt.Fprintf(tw, "conversation:\t%d turns, %d questions\n", st.Turns, st.Pairs)
			fmt.Fprintf(tw, "memory:\t%t (remember rag answers: %t)\n", st.MemoryEnabled, st.RememberRAG)
			fmt.Fprintf(tw, "embedder:\t%s\n", orNone(st.Embedder))
			fmt.Fprintf(tw, "chat model:\t%s\n", orNone(st.ChatModel))
			fmt.Fprintf(tw, "rag model:\t%s\n", orNone(st.RAGModel))
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}

// orNone renders an empty value as "none".
func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
