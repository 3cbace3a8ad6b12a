package clickhouse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]string
	fail    bool
}

func (r *recorder) flush(ctx context.Context, batch []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("clickhouse down")
	}
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestBatchWriter_FlushOnMaxSize(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[string]{
		FlushFunc:    rec.flush,
		TableName:    "audit_log",
		MaxBatchSize: 3,
		MaxAge:       10 * time.Second,
	})

	ctx := context.Background()
	require.NoError(t, bw.Add(ctx, "a"))
	require.NoError(t, bw.Add(ctx, "b"))
	assert.Equal(t, 0, rec.count())
	require.NoError(t, bw.Add(ctx, "c"))

	require.Equal(t, 1, rec.count())
	assert.Equal(t, []string{"a", "b", "c"}, rec.batches[0])
	assert.Equal(t, 0, bw.BufferSize())
}

func TestBatchWriter_FlushOnTimer(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[string]{
		FlushFunc:    rec.flush,
		TableName:    "audit_log",
		MaxBatchSize: 100,
		MaxAge:       20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bw.Start(ctx)

	require.NoError(t, bw.Add(ctx, "a"))
	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bw.Stop(context.Background()))
}

func TestBatchWriter_FailedFlushKeepsRows(t *testing.T) {
	rec := &recorder{fail: true}
	bw := NewBatchWriter(BatchWriterConfig[string]{
		FlushFunc:    rec.flush,
		TableName:    "audit_log",
		MaxBatchSize: 10,
	})

	ctx := context.Background()
	require.NoError(t, bw.Add(ctx, "a"))
	require.Error(t, bw.Flush(ctx))
	assert.Equal(t, 1, bw.BufferSize())

	rec.mu.Lock()
	rec.fail = false
	rec.mu.Unlock()

	require.NoError(t, bw.Flush(ctx))
	assert.Equal(t, 0, bw.BufferSize())
	assert.Equal(t, 1, rec.count())
}

func TestBatchWriter_StopFlushesRemaining(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[string]{
		FlushFunc: rec.flush,
		TableName: "audit_log",
		MaxAge:    time.Hour,
	})

	ctx := context.Background()
	bw.Start(ctx)
	require.NoError(t, bw.Add(ctx, "a"))
	require.NoError(t, bw.Stop(ctx))
	assert.Equal(t, 1, rec.count())
}
