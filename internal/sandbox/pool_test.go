package sandbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/envsandbox/internal/envstubs"
)

func TestPoolIsolation(t *testing.T) {
	cat := &fakeCatalogue{mods: []envstubs.Module{stub("core/device.js", "var device = { n: 0 };")}}
	pool, err := NewPool(DefaultConfig(), cat, nil, 1)
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	res, err := pool.Execute(ctx, "device.n = 5; window.leak = 1; return device.n", 0)
	require.NoError(t, err)
	assert.Equal(t, "5", res.Result)

	res, err = pool.Execute(ctx, "[device.n, typeof leak].join(',')", 0)
	require.NoError(t, err)
	assert.Equal(t, "0,undefined", res.Result)
}

func TestPoolAcquireRelease(t *testing.T) {
	pool, err := NewPool(DefaultConfig(), nil, nil, 2)
	require.NoError(t, err)
	defer pool.Close()

	assert.Equal(t, PoolStats{Size: 2, Available: 2}, pool.Stats())

	m, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Stats().InUse)

	require.NoError(t, pool.Release(m))
	assert.Equal(t, 2, pool.Stats().Available)
}

func TestPoolAcquireHonoursContext(t *testing.T) {
	pool, err := NewPool(DefaultConfig(), nil, nil, 1)
	require.NoError(t, err)
	defer pool.Close()

	m, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(m)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolRecoversFromTimeout(t *testing.T) {
	pool, err := NewPool(Config{Timeout: 50 * time.Millisecond}, nil, nil, 1)
	require.NoError(t, err)
	defer pool.Close()

	res, err := pool.Execute(context.Background(), "while (true) {}", 0)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)

	res, err = pool.Execute(context.Background(), "6 * 7", 0)
	require.NoError(t, err)
	assert.Equal(t, "42", res.Result)
}

func TestPoolConcurrentUse(t *testing.T) {
	pool, err := NewPool(DefaultConfig(), nil, nil, 2)
	require.NoError(t, err)
	defer pool.Close()

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := pool.Execute(context.Background(), "1 + 1", 0)
			if err == nil {
				results[i] = res.Result
			}
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "2", r)
	}
}

func TestPoolClose(t *testing.T) {
	pool, err := NewPool(DefaultConfig(), nil, nil, 1)
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())
	assert.True(t, pool.Stats().Closed)

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}
