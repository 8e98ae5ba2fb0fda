package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"presencesync/internal/activity"
	"presencesync/internal/cache"
	"presencesync/internal/channel"
	"presencesync/internal/config"
	"presencesync/internal/handlers"
	"presencesync/internal/metrics"
	"presencesync/internal/models"
	"presencesync/internal/session"
	"presencesync/internal/tracker"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Config load failed.")
	}

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.Logging.Format == "console" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durable tier. Presence is a best-effort enhancement: losing the
	// durable backend costs warm starts, not correctness, so degrade to
	// volatile-only instead of failing.
	var durable cache.DurableStore
	switch cfg.Cache.DurableBackend {
	case "redis":
		durable, err = cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
	default:
		durable, err = cache.NewKVStore(cache.KVConfig{
			ServerURL:  cfg.NATS.ServerURL,
			BucketName: cfg.NATS.KVBucket,
			Embedded:   cfg.NATS.Embedded,
			DataDir:    cfg.NATS.DataDir,
		}, logger)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Durable tier unavailable, running volatile-only.")
		durable = nil
	}

	rosterCache, err := cache.New[[]models.PresenceEntry](cfg.Cache.KeyPrefix, cache.RistrettoConfig{
		MaxCost:     cfg.Cache.MaxCost,
		NumCounters: cfg.Cache.NumCounters,
		BufferItems: cfg.Cache.BufferItems,
		Metrics:     cfg.Cache.Metrics,
	}, durable, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Cache build failed.")
	}
	defer rosterCache.Close()

	// In embedded mode the channel shares the in-process NATS server
	natsURL := cfg.NATS.ServerURL
	if natsURL == "" {
		if u, ok := durable.(interface{ ServerURL() string }); ok {
			natsURL = u.ServerURL()
		}
	}

	ch := channel.New(channel.Config{
		ServerURL:     natsURL,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
	}, logger)

	sess := session.NewJWTProvider(func() (string, bool) {
		return cfg.Auth.Token, cfg.Auth.Token != ""
	}, cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)

	feed := activity.NewFeed()

	trackerCfg, err := buildTrackerConfig(&cfg.Tracker)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid tracker config.")
	}

	tr := tracker.New(trackerCfg, rosterCache, ch, sess, feed, logger)
	tr.Start(ctx)

	// Router
	r := mux.NewRouter()
	rh := handlers.NewRosterHandler(tr)
	ah := handlers.NewActivityHandler(feed, tr)
	hh := handlers.NewHealthHandler(rosterCache)

	r.Handle("/api/v1/statuses",
		metrics.Middleware("/api/v1/statuses", http.HandlerFunc(rh.GetStatuses), rosterCache)).
		Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/api/v1/statuses/{user_id}",
		metrics.Middleware("/api/v1/statuses/{user_id}", http.HandlerFunc(rh.GetStatus), rosterCache)).
		Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/v1/activity", ah.PostActivity).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/v1/visibility", ah.PostVisibility).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/v1/session/login", ah.PostLogin).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/v1/session/logout", ah.PostLogout).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/v1/resync", ah.PostResync).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/healthz", hh.Liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", hh.Readiness).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Middlewares: CORS -> Auth
	var handler http.Handler = r
	handler = handlers.CORSMiddleware(handler)
	jwtmw := session.NewJWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	handler = jwtmw.OptionalAuthenticate(handler)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.Port),
		Handler: handler,
	}

	go func() {
		logger.Info().Int("port", cfg.Service.Port).Msg("Starting presence-sync.")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Listen failed.")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	tr.Stop()
	ch.Disconnect()
}

func buildTrackerConfig(c *config.TrackerConfig) (tracker.Config, error) {
	rosterTTL, err := c.GetRosterTTL()
	if err != nil {
		return tracker.Config{}, fmt.Errorf("invalid roster TTL: %w", err)
	}
	inactivity, err := c.GetInactivityTimeout()
	if err != nil {
		return tracker.Config{}, fmt.Errorf("invalid inactivity timeout: %w", err)
	}
	throttle, err := c.GetThrottleInterval()
	if err != nil {
		return tracker.Config{}, fmt.Errorf("invalid throttle interval: %w", err)
	}
	emitDelay, err := c.GetEmitDelay()
	if err != nil {
		return tracker.Config{}, fmt.Errorf("invalid emit delay: %w", err)
	}
	batchInterval, err := c.GetBatchInterval()
	if err != nil {
		return tracker.Config{}, fmt.Errorf("invalid batch interval: %w", err)
	}

	return tracker.Config{
		RosterTTL:         rosterTTL,
		InactivityTimeout: inactivity,
		ThrottleInterval:  throttle,
		EmitDelay:         emitDelay,
		BatchInterval:     batchInterval,
	}, nil
}
