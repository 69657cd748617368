package config

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newReloadManager(t *testing.T, path string, opts ...HotReloadOption) *HotReloadManager {
	t.Helper()
	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	opts = append([]HotReloadOption{
		WithReloadLoader(NewLoader().WithConfigPath(path)),
		WithHotReloadLogger(zap.NewNop()),
	}, opts...)
	return NewHotReloadManager(cfg, opts...)
}

func TestHotReloadManager_New(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())
	assert.Equal(t, 1, m.GetCurrentVersion())
	history := m.GetConfigHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "init", history[0].Source)
	assert.NotEmpty(t, history[0].Checksum)
	assert.ErrorIs(t, m.ReloadFromFile(), ErrNoConfigPath)
	assert.NoError(t, m.Start(context.Background()), "no file means nothing to watch")
	assert.NoError(t, m.Stop())
}

func TestHotReloadManager_GetConfigIsACopy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Captcha.APIKey = "secret"
	m := NewHotReloadManager(cfg)

	got := m.GetConfig()
	assert.Equal(t, "secret", got.Captcha.APIKey, "secrets survive the copy")
	assert.Equal(t, cfg.Navigation.Timeout, got.Navigation.Timeout)
	got.Log.Level = "debug"
	assert.Equal(t, "info", m.GetConfig().Log.Level)
}

func TestHotReloadManager_ApplyConfig(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())

	var changed []string
	m.OnChange(func(c ConfigChange) { changed = append(changed, c.Path) })
	var reloads atomic.Int32
	m.OnReload(func(old, cfg *Config) error {
		reloads.Add(1)
		assert.Equal(t, "info", old.Log.Level)
		assert.Equal(t, "debug", cfg.Log.Level)
		return nil
	})

	next := DefaultConfig()
	next.Log.Level = "debug"
	next.Server.HTTPPort = 9000
	require.NoError(t, m.ApplyConfig(next, "api"))

	assert.ElementsMatch(t, []string{"Log.Level", "Server.HTTPPort"}, changed)
	assert.EqualValues(t, 1, reloads.Load())
	assert.Equal(t, 2, m.GetCurrentVersion())

	log := m.GetChangeLog(0)
	require.Len(t, log, 2)
	for _, c := range log {
		assert.Equal(t, c.Path == "Server.HTTPPort", c.RequiresRestart, c.Path)
		assert.True(t, c.Applied)
	}
}

func TestHotReloadManager_ApplyConfigRejectsInvalid(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig(), WithValidateFunc(func(c *Config) error {
		if c.Navigation.MaxRetries > 5 {
			return errors.New("too many retries")
		}
		return nil
	}))

	bad := DefaultConfig()
	bad.Log.Level = "loud"
	assert.ErrorIs(t, m.ApplyConfig(bad, "api"), ErrInvalidConfig)

	hooked := DefaultConfig()
	hooked.Navigation.MaxRetries = 9
	assert.ErrorContains(t, m.ApplyConfig(hooked, "api"), "too many retries")

	assert.Equal(t, 1, m.GetCurrentVersion())
	assert.Equal(t, "info", m.GetConfig().Log.Level)
	log := m.GetChangeLog(0)
	require.Len(t, log, 2)
	assert.Equal(t, "(validation)", log[0].Path)
	assert.False(t, log[0].Applied)
}

func TestHotReloadManager_CallbackFailureRollsBack(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())
	m.OnReload(func(_, cfg *Config) error {
		if cfg.Log.Level == "error" {
			return errors.New("cannot apply")
		}
		return nil
	})
	m.OnChange(func(c ConfigChange) {
		if c.Path == "Navigation.Timeout" {
			panic("boom")
		}
	})

	next := DefaultConfig()
	next.Log.Level = "error"
	assert.ErrorContains(t, m.ApplyConfig(next, "file"), "cannot apply")
	assert.Equal(t, "info", m.GetConfig().Log.Level)

	next = DefaultConfig()
	next.Navigation.Timeout = time.Minute
	assert.ErrorContains(t, m.ApplyConfig(next, "file"), "panicked")
	assert.Equal(t, 30*time.Second, m.GetConfig().Navigation.Timeout)

	last := m.GetChangeLog(1)
	require.Len(t, last, 1)
	assert.Equal(t, "rollback", last[0].Source)
}

func TestHotReloadManager_Rollback(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())
	assert.ErrorIs(t, m.Rollback(), ErrNoPrevious)

	next := DefaultConfig()
	next.Navigation.MaxRetries = 3
	require.NoError(t, m.ApplyConfig(next, "api"))
	require.NoError(t, m.Rollback())
	assert.Equal(t, 1, m.GetConfig().Navigation.MaxRetries)
	assert.ErrorIs(t, m.Rollback(), ErrNoPrevious)

	require.NoError(t, m.RollbackToVersion(2))
	assert.Equal(t, 3, m.GetConfig().Navigation.MaxRetries)
	assert.ErrorIs(t, m.RollbackToVersion(99), ErrVersionMissing)
}

func TestHotReloadManager_HistoryIsBounded(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig(), WithMaxHistorySize(3))
	for i := range 5 {
		next := DefaultConfig()
		next.Navigation.MaxRetries = i + 2
		require.NoError(t, m.ApplyConfig(next, "api"))
	}
	history := m.GetConfigHistory()
	require.Len(t, history, 3)
	assert.Equal(t, 6, history[2].Version)
	assert.Equal(t, 4, history[0].Version)
}

func TestHotReloadManager_UpdateField(t *testing.T) {
	m := NewHotReloadManager(DefaultConfig())

	require.NoError(t, m.UpdateField("Navigation.Timeout", "12s"))
	require.NoError(t, m.UpdateField("Navigation.MaxRetries", float64(4)))
	require.NoError(t, m.UpdateField("Captcha.AutoSolve", false))
	require.NoError(t, m.UpdateField("Captcha.IgnoreURLs", []any{"/login", "/signup"}))

	cfg := m.GetConfig()
	assert.Equal(t, 12*time.Second, cfg.Navigation.Timeout)
	assert.Equal(t, 4, cfg.Navigation.MaxRetries)
	assert.False(t, cfg.Captcha.AutoSolve)
	assert.Equal(t, []string{"/login", "/signup"}, cfg.Captcha.IgnoreURLs)

	assert.ErrorIs(t, m.UpdateField("Server.Nope", 1), ErrUnknownField)
	assert.ErrorIs(t, m.UpdateField("Server.HTTPPort", 1), ErrRestartOnly)
	assert.Error(t, m.UpdateField("Navigation.Timeout", true))
	assert.ErrorIs(t, m.UpdateField("Log.Level", "chatty"), ErrInvalidConfig)
}

func TestHotReloadManager_SanitizedConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Captcha.APIKey = "captcha-secret"
	cfg.Session.Store.Database.DSN = "postgres://u:p@db/bf"
	cfg.Session.Store.Mongo.URI = "mongodb://u:p@mongo"
	cfg.Auth.JWTSecret = "jwt"
	m := NewHotReloadManager(cfg)

	out := m.SanitizedConfig()
	require.NotNil(t, out)
	data := string(mustJSON(t, out))
	for _, secret := range []string{"captcha-secret", "postgres://u:p@db/bf", "mongodb://u:p@mongo", "jwt\""} {
		assert.NotContains(t, data, secret)
	}
	assert.Equal(t, "info", out["log"].(map[string]any)["level"])
}

func TestRedactSensitive(t *testing.T) {
	data := map[string]any{
		"name":     "x",
		"password": "p",
		"nested":   map[string]any{"client_secret": "s", "empty_token": "", "port": 1.0},
	}
	redactSensitive(data)
	assert.Equal(t, "x", data["name"])
	assert.Equal(t, redacted, data["password"])
	nested := data["nested"].(map[string]any)
	assert.Equal(t, redacted, nested["client_secret"])
	assert.Equal(t, "", nested["empty_token"])
	assert.Equal(t, 1.0, nested["port"])
}

func TestHotReloadableFields(t *testing.T) {
	fields := GetHotReloadableFields()
	assert.Contains(t, fields, "Log.Level")
	assert.True(t, fields["Captcha.APIKey"].Sensitive)

	assert.True(t, IsHotReloadable("Navigation.Timeout"))
	assert.False(t, IsHotReloadable("Server.HTTPPort"))
	assert.False(t, IsHotReloadable("Nope.Nope"))

	fields["Log.Level"] = HotReloadableField{RequiresRestart: true}
	assert.True(t, IsHotReloadable("Log.Level"), "returned map is a copy")
}

func TestHotReload_FileIntegration(t *testing.T) {
	path := tempFile(t, "browserflow.yaml", "log:\n  level: info\n")
	m := newReloadManager(t, path, WithReloadDebounce(30*time.Millisecond))

	var levels atomic.Value
	m.OnReload(func(_, cfg *Config) error {
		levels.Store(cfg.Log.Level)
		return nil
	})
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()
	assert.ErrorIs(t, m.Start(context.Background()), ErrReloadRunning)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644))
	require.Eventually(t, func() bool { return levels.Load() == "warn" }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "warn", m.GetConfig().Log.Level)

	// 非法配置被拒绝，保持当前配置
	version := m.GetCurrentVersion()
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: shout\n"), 0o644))
	require.Eventually(t, func() bool {
		log := m.GetChangeLog(1)
		return len(log) == 1 && log[0].Path == "(validation)"
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, version, m.GetCurrentVersion())
	assert.Equal(t, "warn", m.GetConfig().Log.Level)
}

func TestHotReloadManager_FieldValue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Navigation.Timeout = 45 * time.Second
	cfg.Captcha.APIKey = "secret-key"
	cfg.Captcha.IgnoreURLs = []string{"internal.example"}
	m := NewHotReloadManager(cfg)

	v, err := m.FieldValue("Navigation.Timeout")
	require.NoError(t, err)
	assert.Equal(t, "45s", v)

	v, err = m.FieldValue("Captcha.IgnoreURLs")
	require.NoError(t, err)
	assert.Equal(t, []string{"internal.example"}, v)

	v, err = m.FieldValue("Captcha.APIKey")
	require.NoError(t, err)
	assert.Equal(t, redacted, v)

	_, err = m.FieldValue("Browser.Nope")
	assert.ErrorIs(t, err, ErrUnknownField)
}
