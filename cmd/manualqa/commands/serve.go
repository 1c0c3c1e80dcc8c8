package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/manualqa-go/internal/logging"
	"github.com/54b3r/manualqa-go/internal/provider"
	"github.com/54b3r/manualqa-go/internal/server"
	"github.com/54b3r/manualqa-go/internal/tracing"
	"github.com/54b3r/manualqa-go/internal/watcher"
)

// NewServeCmd constructs the `manualqa serve` command, which starts the HTTP
// server and, optionally, the manual directory watcher.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the manualqa HTTP server",
		Long: `Start the manualqa HTTP server.

Endpoints:
  POST /api/ask       answer a question          (alias: POST /ask)
  POST /api/manual    upload and ingest a manual (alias: POST /upload_manual)
  GET  /api/health    liveness
  GET  /api/ready     dependency readiness
  GET  /metrics       Prometheus metrics

With --watch-dir, .txt and .md files written to that directory are
re-ingested automatically.

--host, --port and --watch-dir fall back to MANUALQA_HOST, MANUALQA_PORT
and MANUALQA_WATCH_DIR, which .env or the config file's server section may set.

Examples:
  manualqa serve
  manualqa serve --port 9090 --watch-dir ./manuals
  MODEL_PROVIDER=azure manualqa serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := resolveServeOptions(cmd)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			log.Info("serve starting", slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "ollama")))

			flush, ok := tracing.Install()
			defer flush()
			if ok {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			svc, err := openServices(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer svc.Close()

			var rateLimit float64
			if rpm := getEnvInt("MANUALQA_RATE_LIMIT_RPM", 0); rpm > 0 {
				rateLimit = float64(rpm) / 60
			}

			srv, err := server.New(svc.assistant, svc.pipeline, &server.Config{
				Host:       opts.host,
				Port:       opts.port,
				Logger:     log,
				Pingers:    buildPingers(svc),
				RateLimit:  rateLimit,
				AdminToken: os.Getenv("MANUALQA_ADMIN_TOKEN"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			watchErr := make(chan error, 1)
			if opts.watchDir != "" {
				w, err := watcher.New(watcher.Config{
					Dir:       opts.watchDir,
					UploadDir: svc.pipeline.UploadDir(),
				}, svc.pipeline, log)
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				go func() { watchErr <- w.Run(ctx) }()
			} else {
				close(watchErr)
			}

			serveErr := srv.Start(ctx)
			stop()
			// Wait for in-flight re-ingestions before the store closes.
			return errors.Join(serveErr, <-watchErr)
		},
	}

	cmd.Flags().String("host", "", "Host address to bind to (default $MANUALQA_HOST or 127.0.0.1)")
	cmd.Flags().IntP("port", "p", 0, "TCP port to listen on (default $MANUALQA_PORT or 8000)")
	cmd.Flags().String("watch-dir", "", "Directory to watch for manual changes (default $MANUALQA_WATCH_DIR)")

	return cmd
}

// serveOptions are the resolved listener and watcher settings.
type serveOptions struct {
	host     string
	port     int
	watchDir string
}

// resolveServeOptions reads the serve flags. Flags the user did not set come
// from the environment, read at run time so that .env and the config file
// loaded by the root command are already applied.
func resolveServeOptions(cmd *cobra.Command) (serveOptions, error) {
	flags := cmd.Flags()
	var opts serveOptions
	var err error
	if opts.host, err = flags.GetString("host"); err != nil {
		return opts, err
	}
	if opts.port, err = flags.GetInt("port"); err != nil {
		return opts, err
	}
	if opts.watchDir, err = flags.GetString("watch-dir"); err != nil {
		return opts, err
	}

	if !flags.Changed("host") {
		opts.host = getEnvOrDefault("MANUALQA_HOST", "127.0.0.1")
	}
	if !flags.Changed("port") {
		opts.port = getEnvInt("MANUALQA_PORT", 8000)
	}
	if !flags.Changed("watch-dir") {
		opts.watchDir = os.Getenv("MANUALQA_WATCH_DIR")
	}
	return opts, nil
}

// buildPingers returns the readiness probes for the chat model, the passage
// store and, when enabled, the answer cache.
func buildPingers(svc *services) []server.Pinger {
	pingers := []server.Pinger{
		server.NewLLMPinger(svc.chatModel, provider.NewHealthChecker(svc.providerCfg, nil), string(svc.providerCfg.Backend)),
		server.NewDependencyPinger(svc.storeName, svc.store),
	}
	if svc.cache != nil {
		pingers = append(pingers, server.NewDependencyPinger(svc.cache.Name(), svc.cache))
	}
	return pingers
}
