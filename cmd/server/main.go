package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/theater-booking/internal/app"
	"github.com/iliyamo/theater-booking/internal/config"
	"github.com/iliyamo/theater-booking/internal/handler"
	"github.com/iliyamo/theater-booking/internal/middleware"
	"github.com/iliyamo/theater-booking/internal/notify"
	"github.com/iliyamo/theater-booking/internal/queue"
	"github.com/iliyamo/theater-booking/internal/router"
	"github.com/iliyamo/theater-booking/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := app.NewLogger(cfg.App)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("start")
	}
	defer a.Close()

	var wg sync.WaitGroup
	startBackground(ctx, &wg, a)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestLogger(log))
	router.Register(e, router.Handlers{
		Catalog:       handler.NewCatalogHandler(a.Catalog, a.Capacity),
		Bookings:      handler.NewBookingHandler(a.Booking),
		Documents:     handler.NewDocumentHandler(a.Docs),
		Organizations: handler.NewOrganizationHandler(a.Organizations),
		Health:        handler.Health(a.DB),
	}, router.Options{
		JWTSecret: cfg.JWT.Secret,
		APIKeys:   a.Organizations,
		Cache:     a.Cache.Middleware(),
		RateLimit: middleware.NewTokenBucket(cfg.RateLimit, a.Redis, log),
	})

	go func() {
		addr := ":" + cfg.App.Port
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.App.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	wg.Wait()
}

// startBackground runs the notification consumer and the payment-timeout
// sweep until ctx is cancelled.
func startBackground(ctx context.Context, wg *sync.WaitGroup, a *app.App) {
	cfg := a.Config

	var alerter notify.Alerter
	if cfg.Telegram.Enabled {
		alerter = notify.NewBot(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}
	dispatcher := notify.NewDispatcher(notify.NewMailer(cfg.SMTP, a.Log), alerter, a.Documents, cfg.SMTP.AdminEmail, a.Log)
	consumer := queue.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, dispatcher, a.Log)

	var lock worker.Locker = worker.NoLock{}
	if a.Redis != nil {
		lock = worker.NewRedisLock(a.Redis, "lock:booking-expiry", cfg.Worker.LockTTL)
	}
	expiry := worker.NewExpiryWorker(a.Booking, lock, a.Clock, cfg.Worker.ExpiryInterval, cfg.Worker.BatchSize, a.Log)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Log.WithError(err).Error("notification consumer stopped")
		}
	}()
	go func() {
		defer wg.Done()
		expiry.Start(ctx)
	}()
}
