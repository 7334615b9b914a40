package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_BasicEnqueue(t *testing.T) {
	cq := New()
	defer cq.Close()

	executed := false
	result, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		executed = true
		return "result", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.True(t, executed)
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := New()
	defer cq.Close()

	expectedErr := errors.New("task failed")
	result, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return nil, expectedErr
	})

	assert.Equal(t, expectedErr, err)
	assert.Nil(t, result)
}

// peakOf runs n tasks in lane and returns the highest observed parallelism.
func peakOf(t *testing.T, cq *CommandQueue, lane string, n int) int32 {
	t.Helper()
	var running, peak int32
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cq.Enqueue(context.Background(), lane, func(ctx context.Context) (interface{}, error) {
				cur := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	return atomic.LoadInt32(&peak)
}

func TestCommandQueue_SerialByDefault(t *testing.T) {
	cq := New()
	defer cq.Close()

	assert.Equal(t, int32(1), peakOf(t, cq, "serial", 5))
}

func TestCommandQueue_ConcurrencyCap(t *testing.T) {
	cq := New()
	defer cq.Close()
	cq.SetConcurrency("wide", 3)

	peak := peakOf(t, cq, "wide", 9)
	assert.LessOrEqual(t, peak, int32(3))
	assert.GreaterOrEqual(t, peak, int32(2))
}

func TestCommandQueue_ResetLane(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go cq.Enqueue(context.Background(), "lane", func(ctx context.Context) (interface{}, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started

	errCh := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(context.Background(), "lane", func(ctx context.Context) (interface{}, error) {
			return "never", nil
		})
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		ls := cq.lane("lane")
		ls.mu.Lock()
		defer ls.mu.Unlock()
		return len(ls.queue) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, cq.ResetLane("lane"))
	assert.Error(t, <-errCh)
	close(release)
}

func TestCommandQueue_RemoveLane(t *testing.T) {
	cq := New()
	defer cq.Close()

	_, err := cq.Enqueue(context.Background(), "temp", func(ctx context.Context) (interface{}, error) { return nil, nil })
	require.NoError(t, err)

	require.Eventually(t, func() bool { return cq.RunningCount("temp") == 0 }, time.Second, 5*time.Millisecond)
	cq.RemoveLane("temp")

	cq.mu.RLock()
	_, exists := cq.lanes["temp"]
	cq.mu.RUnlock()
	assert.False(t, exists)
}

func TestCommandQueue_CloseCancelsRunningTasks(t *testing.T) {
	cq := New()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(context.Background(), "long", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
		done <- err
	}()
	<-started

	require.NoError(t, cq.Close())
	assert.ErrorIs(t, <-done, context.Canceled)
}
