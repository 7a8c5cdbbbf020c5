// Package app wires configuration, storage and services together.  Both
// the HTTP server and the ops CLI build their dependencies through it.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/theater-booking/internal/audit"
	"github.com/iliyamo/theater-booking/internal/clock"
	"github.com/iliyamo/theater-booking/internal/config"
	"github.com/iliyamo/theater-booking/internal/database"
	"github.com/iliyamo/theater-booking/internal/middleware"
	"github.com/iliyamo/theater-booking/internal/pricing"
	"github.com/iliyamo/theater-booking/internal/queue"
	"github.com/iliyamo/theater-booking/internal/repository"
	"github.com/iliyamo/theater-booking/internal/service"
)

// App holds the long-lived collaborators of one process.
type App struct {
	Config config.Config
	Log    *logrus.Logger
	DB     *sql.DB
	Redis  *redis.Client // nil when Redis is unreachable
	Clock  clock.Clock

	Shows     *repository.ShowRepo
	Sessions  *repository.SessionRepo
	Bookings  *repository.BookingRepo
	Orgs      *repository.OrganizationRepo
	Documents *repository.DocumentRepo

	Publisher *queue.Publisher
	Audit     audit.Sink
	Cache     *middleware.Cache

	Capacity      *service.CapacityChecker
	Catalog       *service.CatalogService
	Booking       *service.BookingService
	Docs          *service.DocumentService
	Organizations *service.OrganizationService
}

// NewLogger returns a logrus logger configured from cfg: JSON outside dev.
func NewLogger(cfg config.AppConfig) *logrus.Logger {
	log := logrus.New()
	if cfg.Env == "dev" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("log_level", cfg.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// New opens MySQL and Redis and builds every service.  Redis and Kafka are
// optional: without them caching, rate limiting and the sweep lock are
// disabled and audit entries go to the log.
func New(ctx context.Context, cfg config.Config, log *logrus.Logger) (*App, error) {
	db, err := database.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.App.MigrateOnStart {
		if err := database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("schema migrated")
	}

	a := &App{
		Config:    cfg,
		Log:       log,
		DB:        db,
		Clock:     clock.NewSystem(),
		Shows:     repository.NewShowRepo(db),
		Sessions:  repository.NewSessionRepo(db),
		Bookings:  repository.NewBookingRepo(db),
		Orgs:      repository.NewOrganizationRepo(db),
		Documents: repository.NewDocumentRepo(db),
	}

	a.Redis = config.NewRedisClient(cfg.Redis)
	if a.Redis == nil {
		log.WithField("addr", cfg.Redis.Address()).Warn("redis unavailable; cache, rate limit and sweep lock disabled")
	}
	a.Cache = middleware.NewCache(cfg.Cache, a.Redis, log)
	a.Publisher = queue.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, log)
	a.Audit = newAuditSink(ctx, cfg.Kafka, log)

	store := repository.NewStore(db)
	a.Capacity = service.NewCapacityChecker(a.Sessions, a.Clock)
	a.Catalog = service.NewCatalogService(a.Shows, a.Sessions, a.Clock, a.Cache)
	a.Docs = service.NewDocumentService(a.Sessions, a.Orgs, a.Bookings, a.Documents, a.Clock, cfg.JWT.Secret,
		service.WithDownloadLinks(cfg.Document.LinkTTL, cfg.Document.BaseURL))
	a.Organizations = service.NewOrganizationService(a.Orgs)
	a.Booking = service.NewBookingService(service.BookingDeps{
		Tx:            store,
		Sessions:      a.Sessions,
		Bookings:      a.Bookings,
		Organizations: a.Orgs,
		Documents:     a.Docs,
		Notifier:      a.Publisher,
		Audit:         a.Audit,
	}, a.Clock,
		service.WithPaymentWindow(cfg.Booking.PaymentWindow),
		service.WithPricing(pricing.Policy{AccompanyingAdultPercent: cfg.Pricing.AccompanyingAdultPercent}),
		service.WithLogger(log),
		service.WithCacheInvalidator(a.Cache),
	)
	return a, nil
}

func newAuditSink(ctx context.Context, cfg config.KafkaConfig, log logrus.FieldLogger) audit.Sink {
	if !cfg.Enabled {
		return audit.NewLogSink(log)
	}
	brokers := cfg.BrokerList()
	if err := audit.Probe(ctx, brokers); err != nil {
		log.WithError(err).Warn("kafka unreachable; audit entries will be logged")
		return audit.NewLogSink(log)
	}
	return audit.NewKafkaSink(brokers, cfg.Topic)
}

// Close releases every connection.  Errors are logged.
func (a *App) Close() {
	if err := a.Publisher.Close(); err != nil {
		a.Log.WithError(err).Warn("close publisher")
	}
	if err := a.Audit.Close(); err != nil {
		a.Log.WithError(err).Warn("close audit sink")
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if err := a.DB.Close(); err != nil {
		a.Log.WithError(err).Warn("close database")
	}
}
