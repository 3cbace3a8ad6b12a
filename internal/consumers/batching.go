package consumers

import (
	"context"
	"io"
	"sync"
	"time"

	"ideaflow/pkg/logger"
)

// BatchConsumer buffers records and writes them out when asked
type BatchConsumer interface {
	FlushBatch(ctx context.Context) error
	// LogStats logs counters; final is true on shutdown
	LogStats(final bool)
}

// BatchConsumerConfig holds the loop settings of a batch consumer
type BatchConsumerConfig struct {
	ConsumerName  string
	FlushInterval time.Duration
	StatsInterval time.Duration
	Logger        *logger.Logger
}

// startBatchLoop flushes and reports bc on its own goroutine until the returned
// stop func is called. stop waits for the loop to exit before the final flush,
// so the last flush never overlaps a periodic one, then closes source.
func startBatchLoop(ctx context.Context, cfg BatchConsumerConfig, source io.Closer, bc BatchConsumer) (stop func()) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = time.Minute
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	log = log.With("consumer", cfg.ConsumerName)
	log.Infow("Starting batch loop", "flush_interval", cfg.FlushInterval, "stats_interval", cfg.StatsInterval)

	loopCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		flush := time.NewTicker(cfg.FlushInterval)
		stats := time.NewTicker(cfg.StatsInterval)
		defer flush.Stop()
		defer stats.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-flush.C:
				if err := bc.FlushBatch(loopCtx); err != nil {
					log.Errorw("Periodic flush failed", "error", err)
				}
			case <-stats.C:
				bc.LogStats(false)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()

			// the caller's ctx is usually done by now
			if err := bc.FlushBatch(context.Background()); err != nil {
				log.Errorw("Failed to flush final batch", "error", err)
			}
			bc.LogStats(true)

			if err := source.Close(); err != nil {
				log.Errorw("Failed to close Kafka consumer", "error", err)
				return
			}
			log.Info("Batch consumer closed")
		})
	}
}
