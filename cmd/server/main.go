package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"booking/internal/app"
	"booking/internal/config"
	"booking/internal/feed"
	"booking/internal/geocode"
	"booking/internal/handler"
	"booking/internal/logging"
	"booking/internal/middleware"
	"booking/internal/notify"
	internalRedis "booking/internal/redis"
	"booking/internal/repository/postgres"
	"booking/internal/service"
)

func main() {
	cfg := config.Load()
	logger := logging.NewLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		var err error
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", "error", err)
		} else {
			logger.Info("New Relic enabled", "app", cfg.NewRelic.AppName)
		}
	}

	db, err := app.NewDatabase(startCtx, cfg.Database, nrApp)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	redisClient, err := app.NewRedisClient(startCtx, cfg.Redis, nrApp)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	var publisher service.NotificationPublisher
	if cfg.RabbitMQ.Enabled {
		p, err := notify.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger.With("component", "notify"))
		if err != nil {
			logger.Warn("notifications will only be logged", "error", err)
		} else {
			defer p.Close()
			publisher = p
		}
	}

	w := wire(db, redisClient, publisher, nrApp, cfg, logger)
	defer w.locationFeed.Close()
	defer w.bookingFeed.Close()

	go func() {
		if err := w.bookingFeed.ListenPostgres(ctx, cfg.Database.DSN()); err != nil {
			logger.Error("booking listener stopped", "error", err)
		}
	}()

	go w.sessions.Run(ctx)

	if w.consumer != nil {
		defer w.consumer.Close()
		go func() {
			if err := w.consumer.Run(ctx); err != nil {
				logger.Error("location consumer stopped", "error", err)
			}
		}()
	}
	if w.producer != nil {
		defer w.producer.Close()
	}

	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := w.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	w.sessions.Shutdown()
	if nrApp != nil {
		nrApp.Shutdown(2 * time.Second)
	}

	logger.Info("server exited")
}

type wiring struct {
	server       *http.Server
	sessions     *service.SessionManager
	bookingFeed  *feed.BookingFeed
	locationFeed *feed.LocationFeed
	consumer     *feed.LocationConsumer
	producer     *feed.LocationProducer
}

// wire wires all dependencies and returns the HTTP server and background workers.
func wire(db *sql.DB, redisClient *redis.Client, publisher service.NotificationPublisher, nrApp *newrelic.Application, cfg *config.Config, logger *slog.Logger) *wiring {
	// Redis stores.
	locationStore := internalRedis.NewLocationStore(redisClient)
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient, cfg.Pricing.CatalogCacheTTL)

	// Repositories.
	bookingRepo := postgres.NewBookingRepository(db)
	pricingRepo := postgres.NewPricingRepository(db)

	// Feeds.
	bookingFeed := feed.NewBookingFeed(bookingRepo, logger.With("component", "booking_feed"))
	locationFeed := feed.NewLocationFeed(locationStore, logger.With("component", "location_feed"))

	w := &wiring{bookingFeed: bookingFeed, locationFeed: locationFeed}

	// Worker locations arrive over HTTP and go straight to the feed, or via
	// kafka when the stream is enabled.
	var locationSink handler.LocationSink = locationFeed
	if cfg.Kafka.Enabled {
		w.producer = feed.NewLocationProducer(cfg.Kafka.Brokers, cfg.Kafka.LocationTopic)
		w.consumer = feed.NewLocationConsumer(cfg.Kafka.Brokers, cfg.Kafka.LocationTopic, cfg.Kafka.GroupID,
			locationFeed, logger.With("component", "location_consumer"))
		locationSink = w.producer
	}

	// Services.
	pricingService := service.NewPricingService(pricingRepo, cacheStore, service.NewPricingCalculator(cfg.Pricing), logger.With("component", "pricing"))
	notificationService := service.NewNotificationService(publisher, logger.With("component", "notifications"))
	bookingService := service.NewBookingService(bookingRepo, pricingService, cfg.Timer.FallbackDuration, logger.With("component", "bookings"))
	paymentService := service.NewPaymentService(bookingRepo, logger.With("component", "payments"))

	w.sessions = service.NewSessionManager(service.SessionDeps{
		Bookings:      bookingRepo,
		BookingFeed:   bookingFeed,
		LocationFeed:  locationFeed,
		Locations:     locationStore,
		Pricing:       pricingService,
		Geocoder:      geocode.NewNominatim(cfg.Geocoding.BaseURL, cfg.Geocoding.UserAgent, cfg.Geocoding.Timeout),
		Notifications: notificationService,
		Settings: service.SessionSettings{
			Tracking: cfg.Tracking,
			Timer:    cfg.Timer,
		},
		Logger: logger,
	}, lockStore, cfg.Sessions)

	router := app.NewRouter(app.RouterDeps{
		SessionHandler:  handler.NewSessionHandler(w.sessions, logger.With("component", "ws")),
		BookingHandler:  handler.NewBookingHandler(bookingService, paymentService),
		LocationHandler: handler.NewLocationHandler(locationSink),
		ResponseStore:   middleware.NewRedisResponseStore(redisClient),
		NewRelicApp:     nrApp,
		Logger:          logger.With("component", "http"),
	})

	w.server = &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return w
}
