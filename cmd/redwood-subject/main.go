package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dyluth/redwood/internal/bot"
	"github.com/dyluth/redwood/internal/config"
	"github.com/dyluth/redwood/internal/health"
	"github.com/dyluth/redwood/internal/metrics"
	"github.com/dyluth/redwood/internal/subject"
	"github.com/dyluth/redwood/internal/transport"
	"github.com/dyluth/redwood/pkg/bus"
)

// advanceDelay is how long the bot lingers on a finished period.
const advanceDelay = 2 * time.Second

func main() {
	cfg, err := config.LoadSubjectConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, log, advanceDelay); err != nil {
		log.Error("subject stopped", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid REDWOOD_LOG_LEVEL: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}

// run connects the subject, serves health and metrics, and plays the
// session with the demo bot until ctx is cancelled.
func run(ctx context.Context, cfg *config.SubjectConfig, log *zap.Logger, delay time.Duration) error {
	log = log.With(
		zap.String("instance", cfg.InstanceName),
		zap.Int("session", cfg.Session),
		zap.String("subject", cfg.SubjectID))

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client, err := bus.NewClient(redisOpts, cfg.InstanceName, cfg.Session)
	if err != nil {
		return fmt.Errorf("failed to create bus client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("redis not accessible: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	conn := transport.New(client, cfg.SubjectID, transport.WithLogger(log))
	session := subject.New(conn, conn.Scheduler(), subject.WithLogger(log))
	bot.New(session, bot.WithDelay(delay), bot.WithLogger(log))

	server := health.NewServer(cfg.HealthAddr, client, reg,
		health.WithSyncState(func() bool { return !conn.Live() }),
		health.WithLogger(log))
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info("subject starting", zap.String("health", server.Addr()))
	if err := conn.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("subject stopped")
	return nil
}
