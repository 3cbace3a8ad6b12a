package bootstrap

import (
	"context"
	"sync"
	"time"

	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{shutdownTimeout: 60 * time.Second}
}

// Shutdown cleans up in dependency order: stop intake first, then drain
// consumers, then flush buffered audit records, and close the stores last.
func (l *Lifecycle) Shutdown(c *Container) {
	log := c.Log
	shutdownCtx, cancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer cancel()

	log.Info("[1/7] Stopping HTTP server...")
	if c.HTTPServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		if err := c.HTTPServer.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		}
		httpCancel()
	}

	log.Info("[2/7] Stopping background workers...")
	if c.Background.WorkerScheduler != nil && c.Background.WorkerScheduler.IsRunning() {
		if err := c.Background.WorkerScheduler.Stop(); err != nil {
			log.Errorw("Workers shutdown failed", "error", err)
		}
	}

	// consumers close their readers when Start returns
	log.Info("[3/7] Waiting for consumer goroutines...")
	l.waitForGoroutines(c.WG, 10*time.Second, log)

	log.Info("[4/7] Flushing audit archive...")
	if c.Repos.AuditArchive != nil {
		if err := c.Repos.AuditArchive.Stop(shutdownCtx); err != nil {
			log.Errorw("Audit archive flush failed", "error", err)
		}
	}

	log.Info("[5/7] Closing Kafka producer...")
	if c.Adapters.KafkaProducer != nil {
		if err := c.Adapters.KafkaProducer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		}
	}

	log.Info("[6/7] Flushing error tracker and logs...")
	l.flushErrorTracker(shutdownCtx, c.ErrorTracker, log)
	_ = logger.Sync()

	log.Info("[7/7] Closing database connections...")
	l.closeDatabases(c, log)

	log.Info("Graceful shutdown complete")
}

func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Warnw("Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}
	flushCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	}
}

func (l *Lifecycle) closeDatabases(c *Container, log *logger.Logger) {
	var errs errors.MultiError
	if c.PG != nil {
		errs.Add(errors.Wrap(c.PG.Close(), "postgres"))
	}
	if c.CH != nil {
		errs.Add(errors.Wrap(c.CH.Close(), "clickhouse"))
	}
	if c.Redis != nil {
		errs.Add(errors.Wrap(c.Redis.Close(), "redis"))
	}

	if err := errs.ToError(); err != nil {
		log.Errorw("Database close errors", "error", err)
	}
}
