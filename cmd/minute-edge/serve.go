package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/control"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/edge"
	"github.com/Minuteapp/Minute-HR-WARP-Official-sub049/internal/obs"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the edge",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, logFile, err := obs.NewLogger(obs.LogConfig{
			Level:   cfg.Logging.Level,
			File:    cfg.Logging.File,
			Out:     os.Stdout,
			Version: cfg.Version,
		})
		if err != nil {
			return err
		}
		defer logFile.Close()

		caches, store, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer caches.Close()
		defer store.Close()

		metrics := obs.NewMetrics()
		svc, err := edge.NewService(cfg, edge.Deps{
			Caches:  caches,
			Queue:   store,
			Logger:  log,
			Metrics: metrics,
		})
		if err != nil {
			return fmt.Errorf("init edge: %w", err)
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("install edge: %w", err)
		}

		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		srv := &http.Server{
			Handler: control.NewRouter(control.Config{
				Prefix:  cfg.Server.ControlPrefix,
				Service: svc,
				Metrics: metrics,
				Logger:  log,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Info().
				Str("addr", addr).
				Str("origin", cfg.Server.Origin).
				Str("cache", cfg.CacheName()).
				Str("queue_backend", cfg.Storage.QueueBackend).
				Msg("minute-edge listening")
			err := srv.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("server error")
				stop()
			}
		}()

		<-ctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
