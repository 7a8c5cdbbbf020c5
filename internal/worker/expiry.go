// Package worker runs the periodic payment-timeout sweep.
package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/theater-booking/internal/clock"
	"github.com/iliyamo/theater-booking/internal/service"
)

// Expirer cancels bookings whose payment window has passed.
type Expirer interface {
	ExpireOverdue(ctx context.Context, now time.Time, limit int) (service.ExpiryReport, error)
}

// ExpiryWorker calls Expirer on a fixed interval.
type ExpiryWorker struct {
	expirer  Expirer
	lock     Locker
	clock    clock.Clock
	interval time.Duration
	batch    int
	log      logrus.FieldLogger
}

func NewExpiryWorker(e Expirer, lock Locker, clk clock.Clock, interval time.Duration, batch int, log logrus.FieldLogger) *ExpiryWorker {
	if lock == nil {
		lock = NoLock{}
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &ExpiryWorker{
		expirer:  e,
		lock:     lock,
		clock:    clk,
		interval: interval,
		batch:    batch,
		log:      log.WithField("component", "expiry-worker"),
	}
}

// Start blocks, sweeping every interval until ctx is cancelled.
func (w *ExpiryWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.WithField("interval", w.interval.String()).Info("expiry worker started")
	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			w.log.Info("expiry worker stopped")
			return
		}
	}
}

// RunOnce performs one locked sweep.  It returns false when the lock was
// held elsewhere or the sweep failed.
func (w *ExpiryWorker) RunOnce(ctx context.Context) (service.ExpiryReport, bool) {
	release, ok, err := w.lock.Acquire(ctx)
	if err != nil {
		w.log.WithError(err).Warn("lock unavailable; skipping sweep")
		return service.ExpiryReport{}, false
	}
	if !ok {
		w.log.Debug("sweep running on another instance")
		return service.ExpiryReport{}, false
	}
	defer release()

	start := time.Now()
	rep, err := w.expirer.ExpireOverdue(ctx, w.clock.Now(), w.batch)
	fields := logrus.Fields{
		"cancelled":   rep.Cancelled,
		"skipped":     rep.Skipped,
		"failed":      rep.Failed,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		w.log.WithFields(fields).WithError(err).Error("expiry sweep failed")
		return rep, false
	}
	if rep.Cancelled > 0 || rep.Failed > 0 {
		w.log.WithFields(fields).Info("expiry sweep done")
	}
	return rep, true
}
