package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/neurodesk/neurodesk-go/internal/logging"
	"github.com/neurodesk/neurodesk-go/internal/server"
	"github.com/neurodesk/neurodesk-go/internal/tracing"
)

// NewServeCmd constructs the `neurodesk serve` command, which starts the
// HTTP API server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the NeuroDesk HTTP API server",
		Long: `Start the NeuroDesk HTTP server.

The server exposes the document upload, search, ask, collection management,
and feedback endpoints. Callers authenticate with a Bearer token
(NEURODESK_API_KEY) and identify the acting user via the X-User-ID header.

Examples:
  neurodesk serve
  neurodesk serve --port 9090
  MODEL_PROVIDER=azure FALLBACK_PROVIDER=ollama neurodesk serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting",
				slog.String("provider", os.Getenv("MODEL_PROVIDER")),
				slog.String("fallback", os.Getenv("FALLBACK_PROVIDER")),
			)

			// Setup Langfuse tracing: opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			st, err := buildStack(ctx, log, true)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer st.close()

			srv, err := server.New(st.orch, st.indexer, st.vectors, st.chats, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   buildPingers(st),
				APIKey:    os.Getenv("NEURODESK_API_KEY"),
				RateLimit: float64(envInt("NEURODESK_RATE_LIMIT", 0)),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
