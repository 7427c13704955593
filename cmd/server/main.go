package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticketing-reservation/internal/config"
	"github.com/iliyamo/ticketing-reservation/internal/database"
	"github.com/iliyamo/ticketing-reservation/internal/events"
	"github.com/iliyamo/ticketing-reservation/internal/handler"
	"github.com/iliyamo/ticketing-reservation/internal/lockbridge"
	"github.com/iliyamo/ticketing-reservation/internal/metrics"
	"github.com/iliyamo/ticketing-reservation/internal/middleware"
	"github.com/iliyamo/ticketing-reservation/internal/repository"
	"github.com/iliyamo/ticketing-reservation/internal/repository/memrepo"
	"github.com/iliyamo/ticketing-reservation/internal/router"
	"github.com/iliyamo/ticketing-reservation/internal/service"
	"github.com/iliyamo/ticketing-reservation/internal/worker"
)

const demoEventID = 1

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server exited with error")
	}
	log.Info("server stopped")
}

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	if cfg.IsDev() {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("unknown log level; using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// ledger is the set of stores the services run on.
type ledger struct {
	seats     service.SeatStore
	holds     service.HoldStore
	schedules service.ScheduleStore
	tokens    service.TokenStore
	close     func() error
}

func openLedger(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (ledger, error) {
	if cfg.LedgerDriver == "memory" {
		mem := memrepo.New(func() time.Time { return time.Now().UTC() })
		if cfg.DemoSeed {
			s := mem.SeedDemo(demoEventID)
			log.WithFields(logrus.Fields{"schedule_id": s.ID, "event_id": s.EventID, "seats": s.TotalSeats}).Info("demo schedule seeded")
		}
		return ledger{
			seats:     mem.Seats,
			holds:     mem.Holds,
			schedules: mem.Schedules,
			tokens:    mem.Tokens,
			close:     func() error { return nil },
		}, nil
	}

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return ledger{}, err
	}
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return ledger{}, err
		}
		log.Info("database schema applied")
	}
	return mysqlLedger(db), nil
}

func mysqlLedger(db *sql.DB) ledger {
	return ledger{
		seats:     repository.NewSeatRepo(db),
		holds:     repository.NewHoldRepo(db),
		schedules: repository.NewScheduleRepo(db),
		tokens:    repository.NewTokenRepo(db),
		close:     db.Close,
	}
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	ctx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := openLedger(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.close() }()
	log.WithField("driver", cfg.LedgerDriver).Info("ledger ready")

	var rdb *redis.Client
	var locks lockbridge.Store
	if cfg.LockDriver == "redis" {
		if rdb, err = config.NewRedisClient(ctx); err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		locks = lockbridge.NewRedisStore(rdb)
	} else {
		locks = lockbridge.NewMemoryStore()
	}
	log.WithField("driver", cfg.LockDriver).Info("lock store ready")

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	var audit events.Sink = events.Discard{}
	if cfg.AuditEnabled {
		pub := events.NewPublisher(cfg.RabbitMQURL, 0, log)
		audit = pub
		goRun(func() { pub.Run(ctx) })

		consumer := events.NewConsumer(cfg.RabbitMQURL, log)
		consumer.LogPath = cfg.AuditLogPath
		goRun(func() { _ = consumer.Run(ctx) })
	}

	seats := service.NewSeatLockManager(service.SeatLockDeps{
		Seats:     store.seats,
		Holds:     store.holds,
		Schedules: store.schedules,
		Locks:     locks,
		Audit:     audit,
		Metrics:   m,
		Log:       log,
	}, cfg.Seat.HoldDuration)

	queue := service.NewAdmissionController(service.AdmissionDeps{
		Tokens:  store.tokens,
		Locks:   locks,
		Audit:   audit,
		Metrics: m,
		Log:     log,
	}, service.AdmissionConfig{
		MaxActive:         cfg.Queue.MaxActive,
		WaitPerPerson:     cfg.Queue.WaitPerPerson,
		BookingWindow:     cfg.Queue.BookingWindow,
		WaitingTTL:        cfg.Queue.WaitingTTL,
		ActiveTTL:         cfg.Queue.ActiveTTL,
		InactivityTimeout: cfg.Queue.InactivityTimeout,
		CounterTTL:        cfg.Queue.CounterTTL,
	})

	reaper := worker.NewReaper(seats, queue, cfg.ReaperInterval, cfg.ReaperBatchSize, m, log)
	janitor := worker.NewTokenJanitor(queue, cfg.TokenCleanupInterval, cfg.TokenRetention, m, log)
	goRun(func() { reaper.Run(ctx) })
	goRun(func() { janitor.Run(ctx) })

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log))

	var limiter, cache echo.MiddlewareFunc
	if rdb != nil {
		limiter = middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log)
		cache = middleware.NewRedisCache(config.LoadCacheConfig(), rdb, log)
	}
	router.RegisterRoutes(e, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	router.RegisterSeats(e, handler.NewSeatHandler(seats, queue, reaper, cfg.Queue.RequireToken, log), cfg.JWTSecret, cache)
	router.RegisterQueue(e, handler.NewQueueHandler(queue, log), cfg.JWTSecret, limiter)

	serveErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		log.WithError(err).Error("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := e.Shutdown(shutdownCtx); serr != nil {
		log.WithError(serr).Warn("http shutdown incomplete")
	}
	cancelWorkers()
	wg.Wait()
	return err
}
