package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/tutor-go/internal/audit"
	"github.com/54b3r/tutor-go/internal/logging"
)

// NewIngestCmd constructs the `tutor ingest` command, which rebuilds the
// vector index from every PDF in the documents directory.
func NewIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index every PDF in the documents directory",
		Long: `Rebuild the vector index from the PDF files in the documents directory.

Every run replaces the previous index. Documents that cannot be read are
skipped and listed at the end; the run succeeds when at least one document
contributed text.

Relevant environment variables:
  DOCS_DIR             Documents directory (default: data/docs)
  INDEX_BACKEND        sqlite or qdrant (default: sqlite)
  INDEX_DIR            SQLite index directory (default: data/index)
  CHUNK_SIZE           Characters per chunk (default: 1000)
  CHUNK_OVERLAP        Characters shared by adjacent chunks (default: 200)
  REBUILD_POLICY       replace or stage (default: replace)
  EMBEDDING_PROVIDER   Embedding backend (default: MODEL_PROVIDER)

Examples:
  tutor ingest
  DOCS_DIR=./course tutor ingest`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			rt, err := buildRuntime(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			report, err := rt.svc.IngestAll(ctx, func(msg string) {
				fmt.Fprintln(out, msg)
			})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			audit.LogAction(ctx, log, "index.rebuild", "cli",
				slog.Int("documents", report.Total),
				slog.Int("chunks", report.Chunks),
			)

			fmt.Fprintf(out, "\nIndexed %d of %d documents (%d chunks).\n", report.Succeeded, report.Total, report.Chunks)
			for _, f := range report.Failures {
				fmt.Fprintf(out, "  skipped %s: %s\n", f.Document, f.Reason)
			}
			if report.KeptPrevious {
				fmt.Fprintln(out, "No document produced text; the previous index was kept.")
			}
			if !report.OK() {
				return fmt.Errorf("ingest: no document in %s produced any text", rt.svc.Status(ctx).DocsDir)
			}
			return nil
		},
	}
	return cmd
}
