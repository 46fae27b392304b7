package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coverage-map/internal/api"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load siting data and serve the map control surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		src, closers, err := initSource(ctx, cfg)
		if err != nil {
			return err
		}
		env, err := newMapEnv(cfg, src, closers...)
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
			return err
		}
		defer env.Close()

		// The map stays usable with empty layers when the first load fails;
		// POST /reload retries it.
		if _, err := env.Reload(ctx); err != nil {
			zap.L().Error("initial load failed", zap.Error(err))
		}

		handler := buildHandler(env, cfg.Server.CORSOrigins)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildHandler wires the HTTP surface onto env.
func buildHandler(env *mapEnv, origins []string) http.Handler {
	var reload api.Reloader
	if env.Source != nil {
		reload = env.Reload
	}
	return api.New(api.Deps{
		Sync:        env.Sync,
		Registry:    env.Registry,
		Viewport:    env.Canvas,
		Coverage:    env.Coverage,
		Details:     env.Details,
		Reload:      reload,
		CORSOrigins: origins,
	}).Router()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
