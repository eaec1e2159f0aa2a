package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/tutor-go/internal/logging"
	"github.com/54b3r/tutor-go/internal/tutor"
)

// NewAskCmd constructs the `tutor ask` command, which answers a single
// question and prints the answer followed by its sources.
func NewAskCmd() *cobra.Command {
	var modeFlag string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the tutor a question",
		Long: `Ask the tutor a natural language question.

In rag mode (the default) the answer is grounded in passages retrieved from
the indexed documents and the documents used are listed after the answer.
When no documents are indexed the question is answered in basic mode.

Examples:
  tutor ask "what is photosynthesis?"
  tutor ask --mode memory "and how does it relate to respiration?"
  tutor ask --mode basic "explain recursion with an example"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			mode, err := tutor.ParseMode(modeFlag)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			rt, err := buildRuntime(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer rt.Close()

			ans := rt.svc.Ask(ctx, strings.Join(args, " "), mode)
			printAnswer(cmd, ans)
			if ans.Failed() {
				return fmt.Errorf("ask: %w", ans.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&modeFlag, "mode", "m", string(tutor.ModeRAG), "Answering mode: rag, memory, or basic")

	return cmd
}

// printAnswer writes the answer text, a downgrade notice and the sources.
func printAnswer(cmd *cobra.Command, ans tutor.Answer) {
	out := cmd.OutOrStdout()
	if ans.Downgraded {
		fmt.Fprintln(cmd.ErrOrStderr(), "note: no indexed documents are available, answered without retrieval")
	}
	fmt.Fprintln(out, ans.Text)
	if len(ans.Sources) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Sources:")
		for _, s := range ans.Sources {
			fmt.Fprintf(out, "  - %s\n", s)
		}
	}
}
