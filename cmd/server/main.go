package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/iliyamo/bus-seat-reservation/internal/config"
	"github.com/iliyamo/bus-seat-reservation/internal/database"
	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/ledger"
	"github.com/iliyamo/bus-seat-reservation/internal/logger"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/internal/router"
	"github.com/iliyamo/bus-seat-reservation/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, log)
	stop()
	os.Exit(finish(log, err))
}

// finish logs how the server stopped and flushes the logger.  It returns
// the process exit code.
func finish(log *zap.Logger, err error) int {
	code := 0
	if err != nil {
		log.Error("server stopped", zap.Error(err))
		code = 1
	} else {
		log.Info("server stopped")
	}
	_ = log.Sync()
	return code
}

// stores is what the process opened; close releases it on shutdown.
type stores struct {
	buses    interface {
		service.BusStore
		ledger.Catalog
	}
	bookings service.BookingStore
	seatMaps ledger.Store
	rdb      *redis.Client
	close    func()
}

func openStores(ctx context.Context, cfg config.Config, log *zap.Logger) (*stores, error) {
	s := &stores{}
	var closers []func()
	s.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// Redis backs the rate limiter and response cache, and optionally the
	// seat maps.  Without it those features are off.
	rdb, err := config.NewRedisClient(ctx)
	switch {
	case err == nil:
		s.rdb = rdb
		closers = append(closers, func() { _ = rdb.Close() })
	case cfg.LedgerStore == config.DriverRedis:
		return nil, err
	default:
		log.Warn("redis unavailable; rate limiting and caching disabled", zap.Error(err))
	}

	var (
		sqlDB  *sql.DB
		gormDB *gorm.DB
	)
	params := database.Params{User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName}
	switch cfg.DBDriver {
	case config.DriverMySQL:
		if sqlDB, err = database.Open(params); err != nil {
			s.close()
			return nil, fmt.Errorf("mysql: %w", err)
		}
		closers = append(closers, func() { _ = sqlDB.Close() })
		if gormDB, err = database.OpenGormMySQL(sqlDB); err != nil {
			s.close()
			return nil, fmt.Errorf("gorm mysql: %w", err)
		}
	case config.DriverPostgres:
		if gormDB, err = database.OpenGormPostgres(params); err != nil {
			s.close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if pg, err := gormDB.DB(); err == nil {
			closers = append(closers, func() { _ = pg.Close() })
		}
	}

	if gormDB != nil {
		busRepo := repository.NewBusRepo(gormDB, log)
		bookingRepo := repository.NewBookingRepo(gormDB, log)
		if err := busRepo.Migrate(); err != nil {
			s.close()
			return nil, fmt.Errorf("migrate buses: %w", err)
		}
		if err := bookingRepo.Migrate(); err != nil {
			s.close()
			return nil, fmt.Errorf("migrate bookings: %w", err)
		}
		s.buses, s.bookings = busRepo, bookingRepo
	} else {
		s.buses, s.bookings = repository.NewMemoryBusRepo(), repository.NewMemoryBookingRepo()
	}

	switch cfg.LedgerStore {
	case config.DriverMySQL:
		repo := repository.NewSeatMapRepo(sqlDB)
		if err := repo.EnsureSchema(ctx); err != nil {
			s.close()
			return nil, fmt.Errorf("seat map schema: %w", err)
		}
		s.seatMaps = repo
	case config.DriverRedis:
		s.seatMaps = repository.NewRedisSeatMapStore(s.rdb, "")
	default:
		s.seatMaps = repository.NewMemorySeatMapStore()
	}
	log.Info("stores ready",
		zap.String("db_driver", cfg.DBDriver),
		zap.String("ledger_store", cfg.LedgerStore),
		zap.Bool("redis", s.rdb != nil),
	)
	return s, nil
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	seatLedger := ledger.New(st.seatMaps, cfg.Ledger,
		ledger.WithCatalog(st.buses),
		ledger.WithLogger(log.Named("ledger")),
	)
	publisher := queue.NewPublisher(cfg.Queue.URL, log.Named("publisher"))
	busSvc := service.NewBusService(st.buses, seatLedger)
	bookingSvc := service.NewBookingService(st.buses, st.bookings, seatLedger, publisher, log.Named("booking"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log.Named("http")))

	admin := handler.NewAdminHandler(busSvc, bookingSvc, seatLedger, log)
	if st.rdb != nil {
		admin.OnCatalogChange = func(ctx context.Context) {
			if _, err := middleware.PurgeCache(ctx, st.rdb, cfg.Cache.Prefix); err != nil {
				log.Warn("cache purge failed", zap.Error(err))
			}
		}
	}

	router.RegisterRoutes(e)
	router.RegisterPublic(e, handler.NewBusHandler(busSvc, log), middleware.NewRedisCache(cfg.Cache, st.rdb, log.Named("cache")))
	router.RegisterCustomer(e,
		handler.NewHoldHandler(seatLedger, log),
		handler.NewBookingHandler(bookingSvc, log),
		cfg.JWTSecret,
		middleware.NewTokenBucket(cfg.RateLimit, st.rdb, log.Named("ratelimit")),
	)
	router.RegisterLedger(e, handler.NewLedgerHandler(seatLedger, log), cfg.JWTSecret)
	router.RegisterAdmin(e, admin, cfg.JWTSecret)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ":" + cfg.Port
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return seatLedger.RunSweeper(gctx, cfg.Ledger.SweepInterval)
	})

	if cfg.Queue.URL != "" {
		var consumers []*queue.Consumer
		if cfg.Queue.PaymentConsumerEnabled {
			consumers = append(consumers, &queue.Consumer{
				URL:        cfg.Queue.URL,
				Queue:      queue.QueuePaymentSucceeded,
				Handler:    queue.NewPaymentHandler(bookingSvc, log.Named("payment")),
				Log:        log.Named("consumer"),
				RetryDelay: 2 * time.Second,
			})
		}
		if cfg.Queue.AuditLogPath != "" {
			audit := queue.NewAuditLog(cfg.Queue.AuditLogPath)
			consumers = append(consumers,
				&queue.Consumer{URL: cfg.Queue.URL, Queue: queue.QueueBookingConfirmed, Handler: audit.ConfirmedHandler(), Log: log.Named("audit")},
				&queue.Consumer{URL: cfg.Queue.URL, Queue: queue.QueueBookingCancelled, Handler: audit.CancelledHandler(), Log: log.Named("audit")},
			)
		}
		for _, c := range consumers {
			c := c
			g.Go(func() error { return c.Run(gctx) })
		}
	}

	return g.Wait()
}
