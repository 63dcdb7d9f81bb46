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

	"innerhue-gateway/middleware/ratelimit/domain"
	"innerhue-gateway/middleware/ratelimit/infra"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "InnerHue API gateway with per-client rate limiting",
		Long: `gateway serves the InnerHue API routes:

  GET  /api/contributors  GitHub contributors proxy (public limiter, 100 req / 15 min)
  POST /api/chat          chat-completion proxy (chat limiter, 30 req / 60 s)

Configuration comes from environment variables (and an optional .env file),
e.g. LISTEN_ADDR, CHAT_RATE_MAX, CHAT_RATE_WINDOW, PUBLIC_RATE_MAX, RATE_STATS_ENABLED.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(configFile)
			if err != nil {
				return err
			}
			if err := v.BindPFlag("listen_addr", cmd.Flags().Lookup("listen")); err != nil {
				return err
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "optional config file (yaml, json or toml)")
	cmd.Flags().String("listen", "", "listen address (overrides LISTEN_ADDR)")
	return cmd
}

func run(parent context.Context, cfg config) error {
	if parent == nil {
		parent = context.Background()
	}
	log, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	var extra []domain.StatsStore
	if cfg.RateStatsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RateStatsRedisAddr,
			Password: cfg.RateStatsRedisPassword,
			DB:       cfg.RateStatsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(parent, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis stats ping: %w", err)
		}

		extra = append(extra, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.RateStatsPrefix),
			infra.WithStatsTTL(cfg.RateStatsTTL),
			infra.WithStatsBucket(cfg.RateStatsBucket),
			infra.WithStatsTrackKeys(cfg.RateStatsTrackKeys),
		))
	}

	gw, err := newGateway(cfg, log, extra...)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout + 30*time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	for name, l := range gw.limiters {
		log.WithFields(logrus.Fields{
			"limiter": name,
			"limit":   l.Limit(),
			"window":  l.Window().String(),
		}).Info("rate limiter configured")
	}
	log.WithFields(logrus.Fields{
		"addr":            cfg.ListenAddr,
		"github":          cfg.GitHubUpstreamURL,
		"chat":            cfg.ChatUpstreamURL,
		"concurrency_max": cfg.ConcurrencyMax,
		"rate_stats":      cfg.RateStatsEnabled,
		"metrics":         cfg.MetricsEnabled,
	}).Info("gateway listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
