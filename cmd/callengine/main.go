package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/webcall/internal/adapters/device"
	router "github.com/dkeye/webcall/internal/adapters/http"
	"github.com/dkeye/webcall/internal/adapters/rtc"
	bridge "github.com/dkeye/webcall/internal/adapters/signal"
	"github.com/dkeye/webcall/internal/app/call"
	"github.com/dkeye/webcall/internal/config"
	"github.com/dkeye/webcall/internal/domain"
)

func controllerConfig(cfg *config.Config) call.Config {
	return call.Config{
		ICE:               cfg.ICE.Config,
		ICEServers:        cfg.ICE.WebRTCServers(),
		Relay:             cfg.ICE.Relay,
		CandidatePoolSize: cfg.ICE.CandidatePoolSize,
		ICEWaitCap:        cfg.ICE.WaitCap,
		AnswerTimeout:     cfg.Call.AnswerTimeout,
		MuteTimeout:       cfg.Call.MuteTimeout,
		UseWorker:         cfg.Call.UseWorker,
		Platform:          cfg.Platform,
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	playbackLog := log.With().Str("module", "playback").Logger()
	peers, err := rtc.NewFactory(cfg.RTC, rtc.WithPlayback(func(trackID string, f domain.EncodedFrame) {
		playbackLog.Trace().Str("track", trackID).Str("type", string(f.Type)).Int("size", len(f.Data)).Msg("frame")
	}))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build webrtc api")
	}
	devices := device.NewFileAcquirer(cfg.Devices)

	b := bridge.NewBridge(bridge.Config{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	}, bridge.NewProtocol(bridge.CodecFor(cfg.Call.Compress)))

	ctrl := call.NewController(controllerConfig(cfg), peers, devices, b)
	defer ctrl.Close()
	b.Bind(ctrl)

	rl := bridge.NewRateLimiter(cfg.BridgeRateLimit, cfg.BridgeRateInterval, nil)
	r := router.SetupRouter(ctx, cfg, b, rl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("call engine started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
