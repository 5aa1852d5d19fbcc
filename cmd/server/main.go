package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vod2live/internal/orchestrator"
	"vod2live/internal/platform/config"
	"vod2live/internal/platform/logger"
	"vod2live/internal/platform/metrics"
	"vod2live/internal/platform/ratelimit"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = time.Minute
)

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	windowSize := config.GetEnvInt("SLIDING_WINDOW_SIZE", orchestrator.DefaultWindowSize)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	sessionTTL := config.GetEnvDuration("SESSION_TTL", 30*time.Minute)
	assetTTL := config.GetEnvDuration("ASSET_TTL", time.Hour)
	fetchTimeout := config.GetEnvDuration("FETCH_TIMEOUT", 15*time.Second)
	sessionRate := config.GetEnvInt("SESSION_RATE_LIMIT", 60)

	log := logger.New(logLevel, logFormat)

	channel, err := loadChannel()
	if err != nil {
		log.Error("invalid channel configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newStore(ctx, sessionTTL)
	if err != nil {
		log.Error("session store unavailable", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	met := metrics.New()
	assets := orchestrator.NewAssetRepository(assetTTL, func(key string, d time.Duration, err error) {
		met.ObserveAssetLoad(d, err)
		if err != nil {
			log.Warn("asset load failed", "position", key, "duration_ms", d.Milliseconds(), "error", err)
			return
		}
		log.Info("asset loaded", "position", key, "duration_ms", d.Milliseconds())
	})
	go assets.Run(ctx, janitorInterval)

	fetcher := orchestrator.NewFetcher(&http.Client{Timeout: fetchTimeout})
	svc := orchestrator.NewService(store, assets, channel, fetcher, windowSize)
	h := orchestrator.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/healthz", h.Healthz)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			if n, err := svc.ActiveSessions(r.Context()); err == nil {
				met.SetActiveSessions(n)
			}
			met.SetCachedAssets(assets.Len())
		}).ServeHTTP(w, r)
	})
	r.Route("/live", func(r chi.Router) {
		r.With(ratelimit.Limit(ratelimit.Config{
			RequestLimit: sessionRate,
			Window:       time.Minute,
		})).Get("/master.m3u8", h.MasterPlaylist)
		r.Route("/sessions/{session_id}", func(r chi.Router) {
			r.Get("/", h.SessionStatus)
			r.Delete("/", h.EndSession)
			r.Get("/renditions/{bandwidth}/playlist.m3u8", h.MediaPlaylist)
		})
	})

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"sliding_window_size", windowSize,
		"sources", len(channel.Sources),
		"loop", channel.Loop,
		"log_level", logLevel,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// loadChannel reads CHANNEL_FILE if set, otherwise builds a one-source
// channel from SOURCE_URL.
func loadChannel() (*orchestrator.Channel, error) {
	if path := config.GetEnv("CHANNEL_FILE", ""); path != "" {
		return orchestrator.LoadChannel(path)
	}
	c := &orchestrator.Channel{
		Loop: config.GetEnvBool("CHANNEL_LOOP", false),
	}
	if src := config.GetEnv("SOURCE_URL", ""); src != "" {
		c.Sources = []string{src}
	}
	if err := c.Validate(); err != nil {
		return nil, errors.New("set CHANNEL_FILE or SOURCE_URL")
	}
	return c, nil
}

// newStore returns a Redis store when REDIS_ADDR is set and an in-memory
// store otherwise.
func newStore(ctx context.Context, ttl time.Duration) (orchestrator.Store, func(), error) {
	if addr := config.GetEnv("REDIS_ADDR", ""); addr != "" {
		s, err := orchestrator.NewRedisStore(ctx, orchestrator.RedisConfig{
			Addr:     addr,
			Password: config.GetEnv("REDIS_PASSWORD", ""),
			DB:       config.GetEnvInt("REDIS_DB", 0),
		}, ttl)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	s := orchestrator.NewInMemoryStore(ttl, janitorInterval)
	return s, s.Close, nil
}
