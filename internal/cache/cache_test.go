package cache

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

func TestNew(t *testing.T) {
	c, err := New("test", 10, nil)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Zero(t, c.Len())

	unbounded, err := New("test", 0, nil)
	require.NoError(t, err)
	assert.NotNil(t, unbounded)
}

func TestLRU_GetOrCompute(t *testing.T) {
	c, err := New("test", 10, nil)
	require.NoError(t, err)
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (string, error) {
		calls++
		return "value", nil
	}

	v, hit, err := c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.False(t, hit)

	v, hit, err = c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)

	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "value", got)
}

func TestLRU_FailuresAreNotCached(t *testing.T) {
	c, err := New("test", 10, nil)
	require.NoError(t, err)
	ctx := context.Background()
	boom := errors.New("boom")

	_, _, err = c.GetOrCompute(ctx, "k", func(context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())

	v, hit, err := c.GetOrCompute(ctx, "k", func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "ok", v)
}

func TestLRU_SingleFlight(t *testing.T) {
	c, err := New("test", 10, nil)
	require.NoError(t, err)

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	started := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			v, _, err := c.GetOrCompute(context.Background(), "same", compute)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	for i := 0; i < callers; i++ {
		<-started
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
}

func TestLRU_WaiterHonoursContext(t *testing.T) {
	c, err := New("test", 10, nil)
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err = c.GetOrCompute(ctx, "slow", func(context.Context) (string, error) {
		<-release
		return "late", nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := New("test", 2, nil)
	require.NoError(t, err)
	ctx := context.Background()
	value := func(v string) ComputeFunc {
		return func(context.Context) (string, error) { return v, nil }
	}

	_, _, _ = c.GetOrCompute(ctx, "a", value("1"))
	_, _, _ = c.GetOrCompute(ctx, "b", value("2"))
	_, ok := c.Get("a")
	require.True(t, ok)
	_, _, _ = c.GetOrCompute(ctx, "c", value("3"))

	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRU_DeleteAndPurge(t *testing.T) {
	c, err := New("test", 10, nil)
	require.NoError(t, err)
	ctx := context.Background()
	_, _, _ = c.GetOrCompute(ctx, "a", func(context.Context) (string, error) { return "1", nil })
	_, _, _ = c.GetOrCompute(ctx, "b", func(context.Context) (string, error) { return "2", nil })

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Purge()
	assert.Zero(t, c.Len())
}
