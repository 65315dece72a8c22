package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"mindspace-agent/internal/app"
	"mindspace-agent/internal/config"
	"mindspace-agent/internal/knowledge"
	"mindspace-agent/internal/metrics"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("mindspace failed", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "mindspace",
		Short:         "Mental health support chat service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (yaml, json or toml)")

	root.AddCommand(newServeCmd(&configPath), newIngestCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat API on a local HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			a, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			e := echo.New()
			e.HideBanner = true
			e.Use(middleware.Recover())
			a.Handler.Register(e)
			e.GET("/healthz", func(c echo.Context) error {
				return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
			})
			e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

			errCh := make(chan error, 1)
			go func() {
				slog.Info("listening", "addr", cfg.Server.Addr)
				errCh <- e.Start(cfg.Server.Addr)
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newIngestCmd(configPath *string) *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "ingest <documents.json>",
		Short: "Chunk, embed and store documents in the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.DSN == "" {
				return errors.New("ingest: postgres.dsn is required")
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer f.Close()
			docs, err := knowledge.DecodeDocuments(f)
			if err != nil {
				return err
			}

			a, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Knowledge.EnsureSchema(ctx, cfg.Knowledge.Dimensions); err != nil {
				return err
			}
			ingester, err := knowledge.NewIngester(a.Embedder, a.Knowledge, batchSize)
			if err != nil {
				return err
			}
			n, err := ingester.Ingest(ctx, docs)
			if err != nil {
				return err
			}
			slog.Info("ingest complete", "documents", len(docs), "chunks", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "chunks per embedding request")
	return cmd
}
