package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/showgrid/seat-reservation/internal/cache"
	"github.com/showgrid/seat-reservation/internal/config"
	"github.com/showgrid/seat-reservation/internal/database"
	"github.com/showgrid/seat-reservation/internal/handler"
	"github.com/showgrid/seat-reservation/internal/lock"
	"github.com/showgrid/seat-reservation/internal/middleware"
	"github.com/showgrid/seat-reservation/internal/queue"
	"github.com/showgrid/seat-reservation/internal/repository"
	"github.com/showgrid/seat-reservation/internal/router"
	"github.com/showgrid/seat-reservation/internal/service"
	"github.com/showgrid/seat-reservation/internal/worker"
)

func main() {
	// .env is a development convenience; in real deployments the
	// environment is already populated
	_ = godotenv.Load()

	cfg := config.Load()
	jobs := config.LoadJobsConfig()
	idemCfg := config.LoadIdempotencyConfig()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, config.LoadDBPool())
	if err != nil {
		log.Fatalf("mysql: %v", err)
	}
	defer db.Close()

	rdb, err := config.NewRedisClient()
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	store := repository.NewStore(db)
	seats := repository.NewSeatRepo(db)
	reservations := repository.NewReservationRepo(db)
	outbox := repository.NewOutboxRepo(db)
	sessions := repository.NewSessionRepo(db)
	users := repository.NewUserRepo(db)

	redisCache := cache.NewRedis(rdb)
	locks := lock.NewRedisLock(rdb)

	svc := service.NewReservationService(store, seats, reservations, outbox, sessions, users, redisCache, service.Config{
		ReservationTTL:  jobs.ReservationTTL,
		MinSessionSeats: jobs.MinSessionSeats,
	})

	pub := queue.NewPublisher(cfg.AMQPURL)
	defer pub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay := worker.NewRelay(locks, pub, worker.RelayConfig{
		Period:     jobs.RelayPeriod,
		Batch:      jobs.RelayBatch,
		LockTTL:    jobs.RelayLockTTL,
		Backoff:    jobs.RelayBackoff,
		BackoffMax: jobs.RelayBackoffMax,
		MaxRetries: jobs.RelayMaxRetries,
	}, outbox.CreatedStream(), outbox.ClosedStream())
	go relay.Run(ctx)

	sweeper := worker.NewSweeper(locks, svc, worker.SweeperConfig{
		Period:  jobs.SweepPeriod,
		Batch:   jobs.SweepBatch,
		LockTTL: jobs.SweepLockTTL,
	})
	go sweeper.Run(ctx)

	retention := worker.NewRetention(locks, worker.RetentionConfig{
		Period:  jobs.RetentionPeriod,
		Window:  jobs.RetentionWindow,
		LockTTL: jobs.RetentionLockTTL,
	}, outbox.CreatedStream(), outbox.ClosedStream())
	go retention.Run(ctx)

	consumer := queue.NewConsumer(cfg.AMQPURL, redisCache, redisCache, idemCfg.DedupTTL)
	for _, q := range []string{queue.EventReservationCreated, queue.EventReservationClosed} {
		go func(name string) {
			if err := consumer.Run(ctx, name); err != nil && ctx.Err() == nil {
				log.Printf("consumer[%s]: stopped: %v", name, err)
			}
		}(q)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	idem := middleware.Idempotency(redisCache, locks, idemCfg)
	router.Register(e,
		handler.NewReservationHandler(svc),
		handler.NewHealthHandler(db, rdb),
		cfg.JWTSecret,
		idem,
	)

	go func() {
		addr := ":" + cfg.Port
		log.Printf("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}
