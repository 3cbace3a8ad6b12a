// Package workers runs periodic background jobs on a shared scheduler.
package workers

import (
	"context"
	"sync"
	"time"

	"ideaflow/pkg/logger"
)

// degradedAfter is the number of failed runs in a row after which a worker reports degraded
const degradedAfter = 3

// Worker is a periodic job. Run does one pass and returns; the scheduler
// calls it again every Interval while Enabled reports true.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
	Interval() time.Duration
	Enabled() bool
}

// WorkerWithHealth is a Worker whose runs the scheduler reports back
type WorkerWithHealth interface {
	Worker
	Health() WorkerHealth
	RecordRun(duration time.Duration)
	RecordError(err error, duration time.Duration)
}

// WorkerHealth is a snapshot of a worker's run history
type WorkerHealth struct {
	Enabled bool

	LastRun     time.Time
	LastSuccess time.Time
	LastError   error
	// LastDuration is the duration of the most recent pass, successful or not
	LastDuration time.Duration

	RunCount            int64
	ErrorCount          int64
	ConsecutiveFailures int
}

// Degraded reports a worker that keeps failing. A sweep that never
// succeeds leaves the resurfacing gauge stale without any other sign.
func (h WorkerHealth) Degraded() bool {
	return h.Enabled && h.ConsecutiveFailures >= degradedAfter
}

// BaseWorker carries the name, schedule and run history of a worker.
// Concrete workers embed it and add Run.
type BaseWorker struct {
	name     string
	interval time.Duration
	log      *logger.Logger

	mu     sync.RWMutex
	health WorkerHealth
}

// NewBaseWorker creates the shared part of a worker
func NewBaseWorker(name string, interval time.Duration, enabled bool) *BaseWorker {
	return &BaseWorker{
		name:     name,
		interval: interval,
		log:      logger.Get().With("worker", name),
		health:   WorkerHealth{Enabled: enabled},
	}
}

func (w *BaseWorker) Name() string            { return w.name }
func (w *BaseWorker) Interval() time.Duration { return w.interval }
func (w *BaseWorker) Log() *logger.Logger     { return w.log }

func (w *BaseWorker) Enabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.health.Enabled
}

// SetEnabled toggles the worker without restarting the scheduler
func (w *BaseWorker) SetEnabled(enabled bool) {
	w.mu.Lock()
	w.health.Enabled = enabled
	w.mu.Unlock()
	w.log.Infow("Worker enabled state changed", "enabled", enabled)
}

func (w *BaseWorker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.health
}

// RecordRun records a successful pass and clears the failure streak
func (w *BaseWorker) RecordRun(duration time.Duration) {
	w.record(nil, duration)
}

// RecordError records a failed pass
func (w *BaseWorker) RecordError(err error, duration time.Duration) {
	w.record(err, duration)
}

func (w *BaseWorker) record(err error, duration time.Duration) {
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	h := &w.health
	h.LastRun = now
	h.LastDuration = duration
	h.LastError = err
	h.RunCount++
	if err != nil {
		h.ErrorCount++
		h.ConsecutiveFailures++
		if h.ConsecutiveFailures == degradedAfter {
			w.log.Warnw("Worker is failing repeatedly", "failures", h.ConsecutiveFailures, "error", err)
		}
		return
	}
	h.ConsecutiveFailures = 0
	h.LastSuccess = now
}
