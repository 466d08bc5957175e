package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"imlab/internal/camera"
	"imlab/internal/cfg"
	"imlab/internal/dashboard"
	"imlab/internal/metrics"
	"imlab/internal/pipeline"
	"imlab/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	store, err := storage.New(c.DataPath, storage.WithCacheSize(c.CacheSize))
	if err != nil {
		log.Fatal().Err(err).Str("path", c.DataPath).Msg("storage initialization failed")
	}
	defer store.Close()

	hub := camera.NewHub("webcam", mw)
	defer hub.Close()

	session, err := pipeline.NewSession(c, store, hub, mw)
	if err != nil {
		log.Fatal().Err(err).Msg("pipeline initialization failed")
	}
	if err := session.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("pipeline start failed")
	}
	defer session.Stop()

	dash := dashboard.NewDashboard(session, mw, c.Port, c.ThumbnailSize)
	if err := dash.Start(true); err != nil {
		log.Fatal().Err(err).Msg("dashboard start failed")
	}
	defer dash.Stop()

	startMetricsServer(ctx, c)

	var wg sync.WaitGroup
	startReplay(ctx, &wg, c, hub)
	startRemote(ctx, &wg, c, hub)

	log.Info().
		Int("port", c.Port).
		Int("metrics_port", c.MetricsPort).
		Str("data", store.Path()).
		Msg("imlab running")

	waitForShutdown(ctx, cancel, &wg)
}

func setupLogging(c cfg.Settings) {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// startMetricsServer starts the Prometheus metrics HTTP server
func startMetricsServer(ctx context.Context, c cfg.Settings) {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", c.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			if err := server.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to shutdown metrics server")
			}
		}()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// startReplay feeds the hub from REPLAY_DIR when configured, for headless
// demos without a browser camera.
func startReplay(ctx context.Context, wg *sync.WaitGroup, c cfg.Settings, hub *camera.Hub) {
	if c.ReplayDir == "" {
		return
	}
	replay := camera.NewReplay(c.ReplayDir, c.ReplayInterval, c.ReplayLoop, c.ThumbnailSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := replay.Run(ctx, hub); err != nil && err != context.Canceled {
			log.Error().Err(err).Str("dir", c.ReplayDir).Msg("replay ended")
		}
	}()
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}

// startRemote pulls frames from CAMERA_URL when configured.
func startRemote(ctx context.Context, wg *sync.WaitGroup, c cfg.Settings, hub *camera.Hub) {
	if c.CameraURL == "" {
		return
	}
	remote := camera.NewRemote(c.CameraURL, c.CameraPing, c.ThumbnailSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := remote.Run(ctx, hub); err != nil && err != context.Canceled {
			log.Error().Err(err).Str("url", c.CameraURL).Msg("camera stream ended")
		}
	}()
}
