package jobworker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_DispatchNonBlocking(t *testing.T) {
	pool := NewPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	defer pool.Stop()

	start := time.Now()
	pool.TryDispatch(DeliveryJob{
		JobID: "job-1",
		Handler: func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 10*time.Millisecond, "TryDispatch must not block")
}

func TestPool_ProcessesAllJobs(t *testing.T) {
	pool := NewPool(4, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)

	var processed int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		ok := pool.TryDispatch(DeliveryJob{
			JobID: "job",
			Handler: func(ctx context.Context) error {
				defer wg.Done()
				atomic.AddInt64(&processed, 1)
				return nil
			},
		})
		require.True(t, ok)
	}

	wg.Wait()
	pool.Stop()

	assert.EqualValues(t, 20, atomic.LoadInt64(&processed))
	stats := pool.GetStats()
	assert.EqualValues(t, 20, stats.TotalDispatched)
	assert.EqualValues(t, 20, stats.TotalProcessed)
}

func TestPool_DropsWhenQueueFull(t *testing.T) {
	pool := NewPool(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	pool.Start(ctx)
	defer pool.Stop()

	// First job occupies the worker, second fills the queue.
	pool.TryDispatch(DeliveryJob{JobID: "a", Handler: func(ctx context.Context) error {
		<-block
		return nil
	}})
	time.Sleep(10 * time.Millisecond)
	pool.TryDispatch(DeliveryJob{JobID: "b", Handler: func(ctx context.Context) error { return nil }})

	dropped := false
	for i := 0; i < 5; i++ {
		if !pool.TryDispatch(DeliveryJob{JobID: "c", Handler: func(ctx context.Context) error { return nil }}) {
			dropped = true
			break
		}
	}
	close(block)

	assert.True(t, dropped, "pool must drop jobs once the queue is full")
	assert.Greater(t, pool.GetStats().TotalDropped, int64(0))
}

func TestPool_RecoversFromPanic(t *testing.T) {
	pool := NewPool(1, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)

	var after int64
	var wg sync.WaitGroup
	wg.Add(1)
	pool.TryDispatch(DeliveryJob{JobID: "boom", Handler: func(ctx context.Context) error {
		defer wg.Done()
		panic("sender exploded")
	}})
	wg.Wait()

	wg.Add(1)
	pool.TryDispatch(DeliveryJob{JobID: "next", Handler: func(ctx context.Context) error {
		defer wg.Done()
		atomic.AddInt64(&after, 1)
		return nil
	}})
	wg.Wait()
	pool.Stop()

	assert.EqualValues(t, 1, atomic.LoadInt64(&after), "worker must survive a panicking handler")
	assert.Greater(t, pool.GetStats().TotalErrors, int64(0))
}
