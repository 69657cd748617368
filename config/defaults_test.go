package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/browserflow/internal/database"
	"github.com/BaSui01/browserflow/session"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotZero(t, cfg.Browser.Timeout)
	assert.NotEmpty(t, cfg.Navigation.WaitUntil)
	assert.NotEqual(t, EventsConfig{}, cfg.Events)
	assert.NotEmpty(t, cfg.Session.Name)
	assert.NotEmpty(t, cfg.Captcha.Service)
	assert.NotEmpty(t, cfg.Proxy.RotationStrategy)
	assert.NotEmpty(t, cfg.Log.Level)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.False(t, cfg.Auth.Enabled())
}

func TestDefaultConfig_Independent(t *testing.T) {
	a, b := DefaultConfig(), DefaultConfig()
	a.Log.OutputPaths[0] = "stderr"
	a.Navigation.WaitUntil[0] = "domcontentloaded"
	assert.Equal(t, "stdout", b.Log.OutputPaths[0])
	assert.Equal(t, "load", b.Navigation.WaitUntil[0])
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 2*time.Minute, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 20.0, cfg.RateLimitRPS)
	assert.Empty(t, cfg.CORSAllowedOrigins)
}

func TestDefaultNavigationConfig(t *testing.T) {
	cfg := DefaultNavigationConfig()
	assert.Equal(t, []string{"load", "networkidle0"}, cfg.WaitUntil)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.RetryDelay)
}

func TestDefaultSessionConfig(t *testing.T) {
	cfg := DefaultSessionConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, session.DefaultName, cfg.Name)
	assert.Equal(t, session.DefaultDir, cfg.Dir)
	assert.True(t, cfg.PersistCookies)
	assert.True(t, cfg.PersistLocalStorage)
	assert.False(t, cfg.PersistSessionStorage)
	assert.True(t, cfg.PersistUserAgent)

	assert.Equal(t, session.BackendFile, cfg.Store.Backend)
	assert.Equal(t, database.DriverSQLite, cfg.Store.Database.Driver)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "sessions", cfg.Store.Mongo.Collection)
}

func TestDefaultCaptchaConfig(t *testing.T) {
	cfg := DefaultCaptchaConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "2captcha", cfg.Service)
	assert.Equal(t, 120*time.Second, cfg.Timeout)
	assert.Equal(t, 5*time.Second, cfg.PollingInterval)
	assert.True(t, cfg.AutoDetect)
	assert.True(t, cfg.AutoSolve)
}

func TestDefaultProxyConfig(t *testing.T) {
	cfg := DefaultProxyConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "sequential", cfg.RotationStrategy)
	assert.True(t, cfg.RotateOnError)
}

func TestDefaultLogAndTelemetry(t *testing.T) {
	log := DefaultLogConfig()
	assert.Equal(t, "info", log.Level)
	assert.Equal(t, "json", log.Format)
	assert.Equal(t, []string{"stdout"}, log.OutputPaths)

	tel := DefaultTelemetryConfig()
	assert.False(t, tel.Enabled)
	assert.Equal(t, "browserflow", tel.ServiceName)
	assert.Equal(t, 0.1, tel.SampleRate)
}
