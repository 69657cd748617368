package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func randomPort() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 2*time.Minute, cfg.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.TLSCertFile)
}

func TestNewManager(t *testing.T) {
	m := NewManager(http.NewServeMux(), DefaultConfig(), nil)
	require.NotNil(t, m)
	assert.False(t, m.IsRunning())
	assert.Equal(t, ":8080", m.Addr())
}

func TestManager_StartAndShutdown(t *testing.T) {
	m := NewManager(okHandler(), randomPort(), zap.NewNop())

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	assert.True(t, m.IsRunning())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
}

func TestManager_DoubleStart(t *testing.T) {
	m := NewManager(http.NewServeMux(), randomPort(), zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	assert.ErrorIs(t, m.Start(), ErrServerStarted)
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	m := NewManager(http.NewServeMux(), randomPort(), zap.NewNop())
	require.NoError(t, m.Start())

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_StartAfterShutdown(t *testing.T) {
	m := NewManager(http.NewServeMux(), randomPort(), zap.NewNop())
	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))

	assert.ErrorIs(t, m.Start(), ErrServerClosed)
}

func TestManager_ListenError(t *testing.T) {
	first := NewManager(http.NewServeMux(), randomPort(), zap.NewNop())
	require.NoError(t, first.Start())
	t.Cleanup(func() { _ = first.Shutdown(context.Background()) })

	cfg := randomPort()
	cfg.Addr = first.Addr()
	second := NewManager(http.NewServeMux(), cfg, zap.NewNop())
	err := second.Start()
	assert.ErrorContains(t, err, "failed to listen")
	assert.False(t, second.IsRunning())
}

func TestManager_RunStopsOnContextCancel(t *testing.T) {
	m := NewManager(okHandler(), randomPort(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, m.IsRunning, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, m.IsRunning())
}

func TestManager_Errors(t *testing.T) {
	m := NewManager(http.NewServeMux(), randomPort(), zap.NewNop())
	ch := m.Errors()
	require.NotNil(t, ch)

	select {
	case <-ch:
		t.Fatal("should not have received an error")
	default:
	}
}

func TestManager_Addr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":9999"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())
	assert.Equal(t, ":9999", m.Addr())
}
