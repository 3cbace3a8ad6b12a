// Package deferral holds the worker that watches deferred ideas come due.
package deferral

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"ideaflow/internal/metrics"
	deferralsvc "ideaflow/internal/services/deferral"
	"ideaflow/internal/workers"
	"ideaflow/pkg/errors"
)

const lockKey = "worker:deferral_sweep"

// ResurfaceSource lists deferred ideas by readiness
type ResurfaceSource interface {
	ListResurfaced(ctx context.Context) ([]deferralsvc.Resurfaced, error)
	NextResurface(ctx context.Context) (*time.Time, error)
}

// Locker takes a lease so a single instance sweeps at a time
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// SweepWorker publishes how many deferred ideas are ready to resurface and
// logs each one the first time it becomes ready. Readiness itself is derived
// on every read, so a missed sweep delays nothing but the log line.
type SweepWorker struct {
	*workers.BaseWorker
	source ResurfaceSource
	locker Locker
	now    func() time.Time

	announced map[uuid.UUID]bool
}

// NewSweepWorker creates the worker; locker may be nil for a single instance deployment
func NewSweepWorker(source ResurfaceSource, locker Locker, interval time.Duration, enabled bool) *SweepWorker {
	return &SweepWorker{
		BaseWorker: workers.NewBaseWorker("deferral_sweep", interval, enabled),
		source:     source,
		locker:     locker,
		now:        time.Now,
		announced:  make(map[uuid.UUID]bool),
	}
}

// Run performs one sweep
func (w *SweepWorker) Run(ctx context.Context) error {
	if w.locker != nil {
		ok, err := w.locker.AcquireLock(ctx, lockKey, w.Interval())
		if err != nil {
			return errors.Wrap(err, "acquire sweep lock")
		}
		if !ok {
			w.Log().Debug("Another instance holds the sweep lock")
			return nil
		}
		defer func() {
			if err := w.locker.ReleaseLock(context.Background(), lockKey); err != nil {
				w.Log().Warnw("Failed to release sweep lock", "error", err)
			}
		}()
	}

	ready, err := w.source.ListResurfaced(ctx)
	if err != nil {
		return errors.Wrap(err, "list resurfaced ideas")
	}
	metrics.ResurfaceReady.Set(float64(len(ready)))

	current := make(map[uuid.UUID]bool, len(ready))
	for _, r := range ready {
		key := r.IdeaID
		if r.PairID != nil {
			key = *r.PairID
		}
		current[key] = true
		if w.announced[key] {
			continue
		}
		w.Log().Infow("Deferred idea is ready to resurface",
			"trade_idea_id", r.IdeaID,
			"pair_trade_id", r.PairID,
			"column", r.Column,
			"deferred_until", r.DeferredUntil.Format(time.DateOnly),
		)
	}
	// acknowledged ideas drop out and may be announced again after a new deferral
	w.announced = current

	next, err := w.source.NextResurface(ctx)
	if err != nil {
		return errors.Wrap(err, "find next resurface date")
	}
	if next == nil {
		w.Log().Debugw("Deferral sweep done", "ready", len(ready))
		return nil
	}
	w.Log().Debugw("Deferral sweep done",
		"ready", len(ready),
		"next_resurface", next.Format(time.DateOnly),
		"next_resurface_in", humanize.RelTime(w.now(), *next, "ago", "from now"),
	)
	return nil
}

// Announced reports whether the idea or pair has been logged as ready
func (w *SweepWorker) Announced(id uuid.UUID) bool {
	return w.announced[id]
}
