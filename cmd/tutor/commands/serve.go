package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/tutor-go/internal/audit"
	"github.com/54b3r/tutor-go/internal/ingestion"
	"github.com/54b3r/tutor-go/internal/logging"
	"github.com/54b3r/tutor-go/internal/server"
	"github.com/54b3r/tutor-go/internal/tracing"
	"github.com/54b3r/tutor-go/internal/watcher"
)

// NewServeCmd constructs the `tutor serve` command, which starts the HTTP
// API and optionally watches the documents directory.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var watch bool
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tutor HTTP API",
		Long: `Start the tutor HTTP API.

Endpoints:
  POST   /api/ask            {"question": "...", "mode": "rag|memory|basic"}
  POST   /api/ingest         rebuild the index from the documents directory
  DELETE /api/index          clear the index
  GET    /api/conversation   conversation log
  DELETE /api/conversation   clear the conversation
  GET    /api/status         router state and configuration
  GET    /api/health         liveness
  GET    /api/ready          readiness of the index and chat model
  GET    /metrics            Prometheus metrics

With --watch the index is rebuilt whenever PDFs in the documents directory
are added, changed or removed.

Examples:
  tutor serve
  tutor serve --port 9090 --watch
  TUTOR_API_KEY=secret tutor serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Langfuse tracing is opt-in and a no-op when keys are absent.
			flush := tracing.Install(tracing.ConfigFromEnv(), log)
			defer flush()

			rt, err := buildRuntime(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer rt.Close()

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("TUTOR_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("TUTOR_PORT", port)
			}

			srv, err := server.New(rt.svc, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: rt.pingers(),
				APIKey:  os.Getenv("TUTOR_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			var w *watcher.Watcher
			if watch {
				docsDir := rt.svc.Status(ctx).DocsDir
				if _, err := ingestion.ListPDFs(docsDir); err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				w, err = watcher.New(docsDir, debounce, func(ctx context.Context) (*ingestion.Report, error) {
					report, err := rt.svc.IngestAll(ctx, nil)
					if err == nil {
						audit.LogAction(ctx, log, "index.rebuild", "watcher", slog.Int("chunks", report.Chunks))
					}
					return report, err
				})
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(gctx) })
			if w != nil {
				g.Go(func() error { return w.Run(gctx) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env: TUTOR_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env: TUTOR_PORT)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Rebuild the index when PDFs in the documents directory change")
	cmd.Flags().DurationVar(&debounce, "debounce", watcher.DefaultDebounce, "Quiet period before a watched change triggers a rebuild")

	return cmd
}
