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

	router "github.com/dkeye/Call/internal/adapters/http"
	"github.com/dkeye/Call/internal/adapters/rtc"
	"github.com/dkeye/Call/internal/adapters/token"
	"github.com/dkeye/Call/internal/app"
	"github.com/dkeye/Call/internal/app/orch"
	"github.com/dkeye/Call/internal/config"
	"github.com/dkeye/Call/internal/domain"
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
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	defaultVariant, err := domain.ParseVariant(cfg.DefaultVariant)
	if err != nil {
		log.Fatal().Err(err).Str("default_variant", cfg.DefaultVariant).Msg("bad config")
	}
	// validate once; sessions build their own policy per variant
	if _, err := app.PolicyByName(cfg.UnpublishPolicy, defaultVariant); err != nil {
		log.Fatal().Err(err).Msg("bad config")
	}

	tokens := token.NewClient(token.Config{
		URL:        cfg.TokenURL,
		Timeout:    cfg.TokenTimeout,
		RoleFormat: token.RoleFormat(cfg.TokenRoleFormat),
	})

	engine, err := rtc.NewEngine(rtc.Config{
		SignalURL:  cfg.SignalURL,
		ICEServers: cfg.ICEServers,
		RecordDir:  cfg.RecordDir,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init rtc engine")
	}

	reg := app.NewRegistry(func(variant domain.Variant) *app.CallSession {
		policy, _ := app.PolicyByName(cfg.UnpublishPolicy, variant)
		return app.NewCallSession(tokens, engine, app.Options{
			AppID:       cfg.AppID,
			Variant:     variant,
			Policy:      policy,
			JoinTimeout: cfg.JoinTimeout,
		})
	})

	o := &orch.Orchestrator{
		Registry:       reg,
		Limiter:        orch.NewStartRateLimiter(cfg.StartRateLimit, cfg.StartRateInterval),
		DefaultVariant: defaultVariant,
	}

	go o.RunJanitor(ctx, cfg.SweepInterval, cfg.SessionIdleTTL)

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Call server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	o.Shutdown()
	log.Info().Msg("Server exited gracefully")
}
