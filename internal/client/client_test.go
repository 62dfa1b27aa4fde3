package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/config"
	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/envsandbox/internal/infrastructure/server"
	"github.com/GriffinCanCode/envsandbox/internal/sandbox/proxylog"
)

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Sandbox.EnvDir = filepath.Join(dir, "env")
	cfg.Sandbox.SnapshotDir = filepath.Join(dir, "snapshots")
	cfg.Sandbox.MockRules = filepath.Join(dir, "mock-rules.yaml")
	cfg.Sandbox.WatchPatches = false
	cfg.Sandbox.PoolSize = 1
	cfg.RateLimit.Enabled = false
	cfg.Logging.Level = "error"

	s, err := server.NewServer(cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return ts
}

func fastOptions() Options {
	return Options{
		Timeout:      10 * time.Second,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}
}

func TestClientAgainstServer(t *testing.T) {
	ts := startServer(t)
	c := New(ts.URL+"/", fastOptions())
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.NotEmpty(t, h.Version)

	res, err := c.Run(ctx, "6 * 7", 0, false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "42", res.Result)
	require.NotNil(t, res.Stats)

	res, err = c.Run(ctx, "throw new Error('boom')", time.Second, false)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom")

	res, err = c.RunIsolated(ctx, "typeof navigator", 0)
	require.NoError(t, err)
	assert.Equal(t, "object", res.Result)

	_, err = c.Run(ctx, "window.zzzRemote", 0, false)
	require.NoError(t, err)
	list, err := c.Undefined(ctx, true, 0)
	require.NoError(t, err)
	assert.True(t, containsPath(list, "window.zzzRemote"))

	require.NoError(t, c.MarkFixed(ctx, "window.zzzRemote", proxylog.FixedManual))
	list, err = c.Undefined(ctx, true, 0)
	require.NoError(t, err)
	assert.False(t, containsPath(list, "window.zzzRemote"))

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, status.Stats.Executions, 3)
	require.NotNil(t, status.Pool)
	assert.Equal(t, 1, status.Pool.Size)

	require.NoError(t, c.SaveSnapshot(ctx, "remote"))
	snaps, err := c.Snapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "remote", snaps[0].Name)
	require.NoError(t, c.Reset(ctx))
	require.NoError(t, c.LoadSnapshot(ctx, "remote"))
}

func containsPath(list []proxylog.UndefinedEntry, path string) bool {
	for _, e := range list {
		if e.Path == path {
			return true
		}
	}
	return false
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	ts := startServer(t)
	c := New(ts.URL, Options{Breaker: resilience.Settings{Threshold: 1}})
	ctx := context.Background()

	_, err := c.Run(ctx, "  ", 0, false)
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, http.StatusBadRequest, api.Status)
	assert.Equal(t, "Missing code parameter", api.Message)

	err = c.LoadSnapshot(ctx, "missing")
	require.ErrorAs(t, err, &api)
	assert.Equal(t, http.StatusNotFound, api.Status)

	assert.Equal(t, resilience.StateClosed, c.Breaker().State())
}

func TestClientServerErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"exploded"}`))
	}))
	defer ts.Close()

	c := New(ts.URL, fastOptions())
	_, err := c.Run(context.Background(), "1", 0, false)
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, http.StatusInternalServerError, api.Status)
	assert.Equal(t, "exploded", api.Message)
	assert.Equal(t, int32(1), hits.Load())
	assert.True(t, IsServerFault(err))
}

func TestClientRetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false,"error":"slow down"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","version":"test","uptime":1}`))
	}))
	defer ts.Close()

	c := New(ts.URL, fastOptions())
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", h.Version)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClientBreakerOpensOnUnreachableServer(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	opts := fastOptions()
	opts.Retries = -1
	opts.Breaker = resilience.Settings{Threshold: 2, Cooldown: time.Minute}
	c := New(url, opts)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Health(ctx)
		require.Error(t, err)
		assert.False(t, errors.Is(err, resilience.ErrCircuitOpen))
	}
	_, err := c.Health(ctx)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, resilience.StateOpen, c.Breaker().State())
}

func TestIsServerFault(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"client error", &APIError{Status: 404}, false},
		{"server error", &APIError{Status: 503}, true},
		{"transport", errors.New("connection refused"), true},
		{"canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsServerFault(tt.err))
		})
	}
}
