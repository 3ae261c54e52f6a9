package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/example/spot-finder/internal/accounts"
	"github.com/example/spot-finder/internal/auth"
	"github.com/example/spot-finder/internal/config"
	"github.com/example/spot-finder/internal/dispatch"
	"github.com/example/spot-finder/internal/eta"
	"github.com/example/spot-finder/internal/geo"
	httpapi "github.com/example/spot-finder/internal/http"
	"github.com/example/spot-finder/internal/ingest"
	"github.com/example/spot-finder/internal/logging"
	"github.com/example/spot-finder/internal/media"
	"github.com/example/spot-finder/internal/notify"
	"github.com/example/spot-finder/internal/payments"
	"github.com/example/spot-finder/internal/points"
	"github.com/example/spot-finder/internal/sessions"
	"github.com/example/spot-finder/internal/spots"
	"github.com/example/spot-finder/internal/storage"
)

func main() {
	// a local .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "err", err)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	checks := map[string]httpapi.Checker{}

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if cfg.RunMigrations {
			applied, err := pg.Migrate(ctx)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", "files", applied)
		}
		checks["postgres"] = pg.Ping
		store = pg
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var source geo.CandidateSource = geo.StoreSource{Spots: store}
	if cfg.RedisAddr != "" {
		rc := geo.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		defer rc.Close()
		idx := geo.NewRedisIndex(rc, cfg.RedisGeoKey, store)
		checks["redis"] = idx.Ping
		source = idx
	}
	finder := &geo.Finder{Source: source, PrefetchFactor: cfg.NearbyPrefetchFactor}

	var events spots.EventPublisher = ingest.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		events = kp
	}

	ws := dispatch.NewWSRegistry(logger)
	delivery := dispatch.Fanout{ws}
	if cfg.AMQPURL != "" {
		amqpPub, err := dispatch.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		defer amqpPub.Close()
		delivery = append(delivery, amqpPub)
	}
	if cfg.PushEndpoint != "" {
		delivery = append(delivery, dispatch.NewHTTPPush(cfg.PushEndpoint, cfg.PushKey))
	}

	notifications := &notify.Service{Store: store, Delivery: delivery, Logger: logger}
	ledger := &points.Ledger{Store: store, Strict: cfg.StrictWrites, Notify: notifications, Logger: logger}
	spotSvc := &spots.Service{
		Store:  store,
		Points: ledger,
		Finder: finder,
		Events: events,
		Notify: notifications,
		Strict: cfg.StrictWrites,
		Logger: logger,
	}
	if cfg.CloudinaryCloud != "" {
		spotSvc.Photos = media.NewCloudinary(cfg.CloudinaryCloud, cfg.CloudinaryPreset)
	}
	sessionLedger := &sessions.Ledger{
		Store:     store,
		Spots:     spotSvc,
		Notify:    notifications,
		Reminders: notifications,
		Pricing:   cfg.SessionPricing,
		Currency:  cfg.PaymentCurrency,
		Strict:    cfg.StrictWrites,
		Logger:    logger,
	}
	if cfg.StripeAPIKey != "" {
		sessionLedger.Payments = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	estimator := &eta.Estimator{Cache: eta.NewCache(cfg.ETACacheTTL), SpeedMps: cfg.DefaultSpeedMps, Logger: logger}
	if cfg.OSRMEndpoint != "" {
		estimator.Client = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}

	api := httpapi.NewServer(httpapi.Deps{
		Accounts:       &accounts.Service{Store: store, Logger: logger},
		Spots:          spotSvc,
		Sessions:       sessionLedger,
		Points:         ledger,
		Notifications:  notifications,
		ETA:            estimator,
		Auth:           auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		WS:             ws,
		Checks:         checks,
		NearbyRadiusKm: cfg.NearbyDefaultRadiusKm,
		NearbyLimit:    cfg.NearbyDefaultLimit,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	sweeper := &spots.Sweeper{Spots: spotSvc, Interval: cfg.SweepInterval, Batch: cfg.SweepBatch, Logger: logger}
	reminders := &sessions.ReminderLoop{Sessions: sessionLedger, Interval: cfg.ReminderInterval, Batch: cfg.ReminderBatch, Logger: logger}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("spot-finder listening", "addr", cfg.HTTPAddr, "strict_writes", cfg.StrictWrites)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return reminders.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
