package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callbot/internal/adapters/feed"
	router "github.com/dkeye/callbot/internal/adapters/http"
	"github.com/dkeye/callbot/internal/adapters/livekit"
	"github.com/dkeye/callbot/internal/adapters/matrix"
	"github.com/dkeye/callbot/internal/app"
	"github.com/dkeye/callbot/internal/app/broker"
	"github.com/dkeye/callbot/internal/app/orch"
	"github.com/dkeye/callbot/internal/app/scan"
	"github.com/dkeye/callbot/internal/app/target"
	"github.com/dkeye/callbot/internal/app/watch"
	"github.com/dkeye/callbot/internal/config"
	"github.com/dkeye/callbot/internal/domain"
	"github.com/dkeye/callbot/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Err(err).Str("level", cfg.Log.Level).Msg("unknown log level, keeping info")
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	chat, err := matrix.New(matrix.Config{
		HomeserverURL: cfg.Matrix.HomeserverURL,
		UserID:        domain.UserID(cfg.Matrix.UserID),
		AccessToken:   cfg.Matrix.AccessToken,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("matrix client")
	}

	scanner := scan.NewScanner(chat, cfg.Call.DefaultBaseURL)
	sessions := orch.New(
		chat,
		scanner,
		target.NewExtractor(cfg.Call.DefaultBaseURL),
		broker.New(broker.Config{
			HomeserverURL:  cfg.Matrix.HomeserverURL,
			RequestTimeout: cfg.Broker.RequestTimeout,
			DiscoveryTTL:   cfg.Broker.DiscoveryTTL,
		}),
		livekit.NewClient(),
		orch.Config{
			Retry:          app.RetryPolicy{Attempts: cfg.Session.ScanAttempts, BaseDelay: cfg.Session.ScanBaseDelay},
			ConnectTimeout: cfg.Session.ConnectTimeout,
			PlayTimeout:    cfg.Session.PlayTimeout,
		},
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg)
	sessions.Subscribe(collector.Observe)

	hub := feed.NewHub(feed.Config{
		ReadLimit:  cfg.Feed.ReadLimit,
		PingPeriod: cfg.Feed.PingPeriod,
		SendBuffer: cfg.Feed.SendBuffer,
	}, app.SimplePolicy{MaxDropped: cfg.Feed.SendBuffer}, sessions.Sessions)
	sessions.Subscribe(hub.Publish)

	// a fresh process owns no media connections
	if err := sessions.Reset(ctx); err != nil {
		log.Warn().Err(err).Msg("reset")
	}

	watcher := watch.New(chat, scanner, sessions, watch.Config{
		DetectDelay: cfg.Session.DetectDelay,
		VoiceRoomID: domain.RoomID(cfg.Matrix.VoiceRoomID),
	})
	go watcher.Run(ctx, chat.Events())
	go func() {
		if err := chat.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("matrix sync stopped")
			cancel()
		}
	}()

	r := router.SetupRouter(ctx, cfg, sessions, hub, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("user", cfg.Matrix.UserID).Msg("callbot started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	hub.Close()
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("session shutdown")
	}
	log.Info().Msg("callbot exited gracefully")
}
