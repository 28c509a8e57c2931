package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/cipherroom/internal/api"
	"github.com/eldtechnologies/cipherroom/internal/config"
	"github.com/eldtechnologies/cipherroom/internal/events"
	"github.com/eldtechnologies/cipherroom/internal/handlers"
	"github.com/eldtechnologies/cipherroom/internal/hub"
	"github.com/eldtechnologies/cipherroom/internal/logging"
	"github.com/eldtechnologies/cipherroom/internal/messages"
	"github.com/eldtechnologies/cipherroom/internal/store"
	"github.com/eldtechnologies/cipherroom/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))
		l.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Backend).Msg("storage initialization failed")
	}
	defer backend.Close()
	logger.Info().Str("backend", backend.Name()).Msg("storage ready")

	redisClient := rateLimitClient(ctx, cfg, backend, logger)

	liveHub := hub.New(hub.DefaultBuffer, logger)
	opts := []messages.Option{
		messages.WithPublisher(liveHub),
		messages.WithStrictHex(cfg.StrictHex),
	}
	if len(cfg.KafkaBrokers) > 0 {
		stream := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer stream.Close()
		opts = append(opts, messages.WithPublisher(stream))
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing message events to Kafka")
	}
	svc := messages.NewService(backend, cfg.Limits, logger, opts...)

	sw := sweeper.New(backend, logger, sweeper.Options{
		Retention: cfg.Retention,
		Interval:  cfg.SweepInterval,
	})
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sw.Run(ctx)
	}()

	router := api.NewRouter(logger, cfg, handlers.NewHandler(svc, liveHub, logger), redisClient)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Int64("max_json_size", cfg.Limits.MaxJSONSize).
			Msg("starting cipherroom server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	<-sweepDone

	logger.Info().Msg("server stopped")
}

// rateLimitClient returns the redis client backing the rate limiter, or
// nil when REDIS_URL is unset. The redis backend's client is shared.
func rateLimitClient(ctx context.Context, cfg *config.Config, backend store.Backend, logger zerolog.Logger) *redis.Client {
	if rs, ok := backend.(*store.RedisStore); ok {
		return rs.Client()
	}
	if cfg.RedisURL == "" {
		logger.Info().Msg("REDIS_URL not set, rate limiting disabled")
		return nil
	}

	client, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, rate limiting disabled")
		return nil
	}
	logger.Info().Msg("connected to Redis for rate limiting")
	return client
}
