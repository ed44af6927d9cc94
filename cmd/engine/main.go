package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notification-engine/internal/catalog"
	"notification-engine/internal/channel"
	"notification-engine/internal/config"
	"notification-engine/internal/engine"
	"notification-engine/internal/handler"
	"notification-engine/internal/httpserver"
	"notification-engine/internal/mqhandler"
	"notification-engine/internal/repository"
	"notification-engine/pkg/db"
	"notification-engine/pkg/logger"
	"notification-engine/pkg/mq"
	redisclient "notification-engine/pkg/redis"
	"notification-engine/pkg/sweeplock"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting notification-engine...",
		zap.String("db_host", cfg.DB.Host),
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("reference_timezone", cfg.Engine.ReferenceTimezone),
	)

	tz, err := time.LoadLocation(cfg.Engine.ReferenceTimezone)
	if err != nil {
		log.Fatal("Invalid reference timezone", zap.Error(err))
	}

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Repositories
	notificationRepo := repository.NewNotificationRepository(dbConn, log)
	deliveryRepo := repository.NewDeliveryRepository(dbConn, log)
	templateRepo := repository.NewTemplateRepository(dbConn, log)
	throttleRepo := repository.NewThrottleRepository(dbConn, log)
	batchRepo := repository.NewBatchRepository(dbConn, log)
	scheduleRepo := repository.NewScheduleRepository(dbConn, log)
	abtestRepo := repository.NewABTestRepository(dbConn, log)
	preferenceRepo := repository.NewPreferenceRepository(dbConn, log)
	membershipRepo := repository.NewMembershipRepository(dbConn, log)

	// Engine services
	cat := catalog.Default()
	limiter := engine.NewRateLimiter(throttleRepo, tz,
		cfg.Engine.DefaultMaxPerMinute,
		cfg.Engine.DefaultMaxPerHour,
		cfg.Engine.DefaultMaxPerDay,
		log,
	)
	registry := engine.NewRegistry(templateRepo, log)
	gate := engine.NewGate(preferenceRepo, log)
	selector := engine.NewSelector(abtestRepo, log)
	tracker := engine.NewTracker(deliveryRepo, log)
	batcher := engine.NewBatcher(batchRepo, log)
	scheduler := engine.NewScheduler(scheduleRepo, membershipRepo, log)

	sender := channel.NewBreakerSender(
		channel.NewMQSender(publisher, time.Duration(cfg.Engine.SenderTimeoutMS)*time.Millisecond, log),
		log,
	)

	orchestrator := engine.NewOrchestrator(cat, gate, limiter, selector, registry, batcher, tracker, notificationRepo, sender, log)
	batcher.SetSink(orchestrator)
	scheduler.SetDeliverer(orchestrator)

	if err := seedTemplates(context.Background(), registry, log); err != nil {
		log.Fatal("Failed to seed templates", zap.Error(err))
	}

	// One consumer per event kind; dispatch DLQ queues declared up front.
	eventHandler := mqhandler.NewEventHandler(orchestrator, log)

	routingKeys := make([]string, 0, len(cat.Kinds()))
	for _, kind := range cat.Kinds() {
		routingKeys = append(routingKeys, "event."+kind)
	}
	if err := publisher.SetupDLQ(routingKeys); err != nil {
		log.Fatal("Failed to set up DLQ", zap.Error(err))
	}

	consumers := make([]*mq.Consumer, 0, len(cat.Kinds()))
	for _, kind := range cat.Kinds() {
		routingKey := "event." + kind
		consumer, err := mq.NewConsumer(cfg.MQ.URL, routingKey+".q", routingKey, log)
		if err != nil {
			log.Fatal("Failed to init consumer",
				zap.String("kind", kind),
				zap.Error(err),
			)
		}
		consumer.SetHandler(eventHandler.Handle(kind))
		consumer.SetDLQPublisher(publisher)
		consumers = append(consumers, consumer)

		go func(kind string, c *mq.Consumer) {
			if err := c.StartConsuming(); err != nil {
				log.Fatal("Consumer failed",
					zap.String("kind", kind),
					zap.Error(err),
				)
			}
		}(kind, consumer)
	}

	// Sweep loops. The redis lock keeps multiple instances from scanning
	// the same cycle; the per-row SQL claim is what prevents double sends.
	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	lock := sweeplock.NewLock(rdb, time.Duration(cfg.Engine.BatchSweepIntervalSec)*time.Second)

	go runSweep(sweepCtx, "batch", time.Duration(cfg.Engine.BatchSweepIntervalSec)*time.Second, lock, log, batcher.Sweep)
	go runSweep(sweepCtx, "digest", time.Duration(cfg.Engine.DigestSweepIntervalSec)*time.Second, lock, log, batcher.SweepDigests)
	go runSweep(sweepCtx, "schedule", time.Duration(cfg.Engine.ScheduleSweepIntervalSec)*time.Second, lock, log, scheduler.ProcessDue)
	go runSweep(sweepCtx, "throttle-purge", time.Hour, lock, log, func(ctx context.Context) error {
		purged, err := throttleRepo.PurgeExpiredWindows(ctx, time.Now().Add(-48*time.Hour))
		if purged > 0 {
			log.Info("Purged expired throttle windows", zap.Int64("count", purged))
		}
		return err
	})

	// HTTP server
	router := httpserver.NewRouter(httpserver.Handlers{
		Notifications: handler.NewNotificationHandler(orchestrator, tracker, notificationRepo, log),
		Templates:     handler.NewTemplateHandler(registry, log),
		Schedules:     handler.NewScheduleHandler(scheduler, scheduleRepo, log),
		ABTests:       handler.NewABTestHandler(selector, log),
		Settings:      handler.NewSettingsHandler(preferenceRepo, throttleRepo, batchRepo, log),
	}, log, dbConn)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}
	go func() {
		log.Info("HTTP server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("notification-engine is fully initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down notification-engine gracefully...")

	stopSweeps()
	for _, c := range consumers {
		c.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	publisher.Close()
	dbConn.Close()

	log.Info("notification-engine shutdown complete")
}

// seedTemplates creates the catalog's default templates on first boot.
// Existing templates are never overwritten.
func seedTemplates(ctx context.Context, registry *engine.Registry, log *zap.Logger) error {
	for _, tpl := range catalog.DefaultTemplates() {
		tpl := tpl
		_, err := registry.GetByType(ctx, tpl.Type)
		if err == nil {
			continue
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if err := registry.Create(ctx, &tpl); err != nil {
			return err
		}
		log.Info("Seeded template", zap.String("type", tpl.Type))
	}
	return nil
}

// runSweep drives one periodic sweep under the shared cycle lock.
func runSweep(ctx context.Context, name string, interval time.Duration, lock *sweeplock.Lock, log *zap.Logger, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !lock.Acquire(ctx, name, now) {
				continue
			}
			if err := fn(ctx); err != nil {
				log.Error("Sweep failed",
					zap.String("sweep", name),
					zap.Error(err),
				)
			}
			lock.Release(ctx, name, now)
		}
	}
}
