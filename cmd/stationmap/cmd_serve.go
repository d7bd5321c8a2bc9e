package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/yegors/stationmap/internal/api"
	"github.com/yegors/stationmap/internal/websocket"
	"github.com/yegors/stationmap/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Serve the station tables, cache controls and rendered maps over HTTP,
and push cache updates to browsers over a websocket.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	log := a.log
	log.Info("Starting stationmap server",
		logger.String("version", Version),
		logger.String("config_path", configPath),
		logger.String("cache_backend", a.cfg.Cache.Backend))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Create WebSocket server
	wsServer := websocket.NewServer(log)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		wsServer.Run(ctx)
	}()

	handler := api.NewHandler(a.cache, a.interactiveRenderer(), a.staticRenderer(), wsServer, a.cfg, log)
	router := api.NewRouter(handler, a.cfg.Server.StaticFilesDir, log)

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(a.cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(a.cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(a.cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for a shutdown signal or a listener failure
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serveErr:
		if err != nil {
			cancel()
			<-hubDone
			return fmt.Errorf("HTTP server error on %s: %w", addr, err)
		}
	}

	cancel()
	<-hubDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.String("addr", server.Addr), logger.Error(err))
		return err
	}

	log.Info("Server fully stopped")
	return nil
}
