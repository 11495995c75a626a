package parallel

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/boxoffice/pkg/errors"
)

func TestParallelize_CoversEveryItemOnce(t *testing.T) {
	for _, items := range []int{0, 1, 7, 100, 1001} {
		seen := make([]int32, items)
		Parallelize(items, 4, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&seen[i], 1)
			}
		})
		for i, c := range seen {
			assert.Equal(t, int32(1), c, "items=%d index=%d", items, i)
		}
	}
}

func TestParallelizeWithThreshold_Sequential(t *testing.T) {
	calls := 0
	ParallelizeWithThreshold(10, 100, 4, func(start, end int) {
		calls++
		assert.Equal(t, 0, start)
		assert.Equal(t, 10, end)
	})
	assert.Equal(t, 1, calls)
}

func TestForEach(t *testing.T) {
	t.Run("runs all jobs", func(t *testing.T) {
		var sum int64
		err := ForEach(context.Background(), 50, 3, func(_ context.Context, i int) error {
			atomic.AddInt64(&sum, int64(i))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(49*50/2), sum)
	})

	t.Run("bounded concurrency", func(t *testing.T) {
		var running, peak int32
		err := ForEach(context.Background(), 40, 2, func(_ context.Context, _ int) error {
			cur := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
					break
				}
			}
			atomic.AddInt32(&running, -1)
			return nil
		})
		require.NoError(t, err)
		assert.LessOrEqual(t, peak, int32(2))
	})

	t.Run("returns first error", func(t *testing.T) {
		boom := errors.New("boom")
		err := ForEach(context.Background(), 10, 1, func(_ context.Context, i int) error {
			if i == 3 {
				return boom
			}
			return nil
		})
		assert.True(t, errors.Is(err, boom))
	})

	t.Run("recovers panics", func(t *testing.T) {
		err := ForEach(context.Background(), 4, 2, func(_ context.Context, i int) error {
			if i == 2 {
				panic("bad job")
			}
			return nil
		})
		var pe *errors.PanicError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "bad job", pe.PanicValue)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		var calls int32
		err := ForEach(ctx, 10, 2, func(_ context.Context, _ int) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(0), calls)
	})
}

func TestWorkers(t *testing.T) {
	assert.Equal(t, 3, Workers(3))
	assert.Greater(t, Workers(0), 0)
	assert.Greater(t, Workers(-1), 0)
}
