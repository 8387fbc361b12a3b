// The server command runs the background side of the funding backend: the
// outbox dispatcher and the project deadline sweeper. The request-facing
// transport embeds the usecase services separately.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fundlane/fundlane-backend/config"
	"github.com/fundlane/fundlane-backend/internal/adapter/eventbus"
	"github.com/fundlane/fundlane-backend/internal/adapter/notifier"
	"github.com/fundlane/fundlane-backend/internal/adapter/relay"
	"github.com/fundlane/fundlane-backend/internal/adapter/repository/postgres"
	"github.com/fundlane/fundlane-backend/internal/domain"
	"github.com/fundlane/fundlane-backend/internal/usecase/lifecycle"
	"github.com/fundlane/fundlane-backend/internal/usecase/notify"
	"github.com/fundlane/fundlane-backend/internal/usecase/outbox"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Log.Level)
	clock := domain.SystemClock{}

	// 1. Database
	db, err := postgres.NewDB(cfg.PG.ConnString)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// 2. Repositories
	projectRepo := postgres.NewProjectRepository(db)
	executionRepo := postgres.NewExecutionRepository(db)
	distributionRepo := postgres.NewDistributionRepository(db)
	eventRepo := postgres.NewEventRepository(db)

	// 3. Outbox with its handlers
	outboxService := outbox.NewService(eventRepo, clock, cfg.Outbox.BackoffBase, cfg.Outbox.MaxRetries, cfg.Outbox.HandlerTimeout, cfg.Outbox.StaleClaimAfter)
	notifyService := notify.NewService(notifier.NewLogDispatcher(logger), projectRepo, logger)

	var publisher *eventbus.Publisher
	if cfg.Kafka.Enabled {
		publisher, err = eventbus.New(context.Background(), cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			logger.Error("failed to connect to kafka", slog.Any("error", err))
			os.Exit(1)
		}
		defer publisher.Close()
	}

	registerHandlers(outboxService, notifyService, publisher)

	// 4. Deadline sweeper
	lifecycleService := lifecycle.NewService(projectRepo, executionRepo, distributionRepo, outboxService, db, clock)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	var sweeperWG sync.WaitGroup
	sweeperWG.Add(1)
	go func() {
		defer sweeperWG.Done()
		runSweeper(sweepCtx, lifecycleService, logger, cfg.Sweeper.Interval, cfg.Sweeper.BatchSize)
	}()

	// 5. Outbox relay
	outboxRelay := relay.New(outboxService, logger, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, cfg.Outbox.Workers)
	if err := outboxRelay.Start(context.Background()); err != nil {
		logger.Error("failed to start outbox relay", slog.Any("error", err))
		os.Exit(1)
	}

	// 6. Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	logger.Info("shutting down", slog.String("signal", sig.String()))

	stopSweeper()
	sweeperWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Outbox.ShutdownTimeout)
	defer cancel()
	if err := outboxRelay.Shutdown(shutdownCtx); err != nil {
		logger.Error("outbox relay shutdown", slog.Any("error", err))
	}
}

// runSweeper periodically settles COLLECTING projects past their deadline
func runSweeper(ctx context.Context, svc *lifecycle.Service, logger *slog.Logger, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			settled, err := svc.SweepDeadlines(ctx, batchSize)
			if err != nil {
				logger.Error("deadline sweep", slog.Any("error", err))
				continue
			}
			if settled > 0 {
				logger.Info("deadline sweep settled projects", slog.Int("settled", settled))
			}
		}
	}
}

// registerHandlers chains the notification handlers with the optional
// Kafka publisher per event type
func registerHandlers(outboxService *outbox.Service, notifyService *notify.Service, publisher *eventbus.Publisher) {
	noop := func(ctx context.Context, event *domain.EventLog) error { return nil }

	publish := func(next outbox.Handler) outbox.Handler {
		if next == nil {
			next = noop
		}
		if publisher == nil {
			return next
		}
		return func(ctx context.Context, event *domain.EventLog) error {
			if err := publisher.Handle(ctx, event); err != nil {
				return err
			}
			return next(ctx, event)
		}
	}

	outboxService.Register(domain.EventTypePledgeCaptured, publish(notifyService.HandlePledgeCaptured))
	outboxService.Register(domain.EventTypePledgeRefunded, publish(notifyService.HandlePledgeRefunded))
	outboxService.Register(domain.EventTypeProjectStatusChanged, publish(notifyService.HandleProjectStatusChanged))
	outboxService.Register(domain.EventTypeDistributionExecuted, publish(nil))
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
