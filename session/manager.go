package session

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/types"
)

const (
	setStorageScript = `(area, data) => {
  const store = area === "session" ? sessionStorage : localStorage;
  for (const [key, value] of Object.entries(data)) {
    try { store.setItem(key, value); } catch (e) {}
  }
}`
	readStorageScript = `(area) => {
  const store = area === "session" ? sessionStorage : localStorage;
  const data = {};
  for (let i = 0; i < store.length; i++) {
    const key = store.key(i);
    if (key) data[key] = store.getItem(key) || "";
  }
  return data;
}`
	userAgentScript = `() => navigator.userAgent`
)

// Manager owns the state of one named session.
type Manager struct {
	opts   Options
	store  Store
	bus    *events.Bus
	logger *zap.Logger

	mu   sync.Mutex
	data *Data
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore sets the backend. The default is a FileStore on Options.SessionDir.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithBus sets the bus session events are emitted on.
func WithBus(bus *events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager loads the named session from the store. A missing or
// unreadable session starts empty; read failures are logged only.
func NewManager(ctx context.Context, opts Options, mopts ...Option) *Manager {
	m := &Manager{
		opts:   opts.withDefaults(),
		logger: zap.NewNop(),
	}
	for _, o := range mopts {
		o(m)
	}
	m.logger = m.logger.With(zap.String("component", "session"), zap.String("session", m.opts.Name))
	if m.store == nil {
		m.store = NewFileStore(m.opts.SessionDir, m.logger)
	}
	if m.bus == nil {
		m.bus = events.NewBus(m.logger)
	}

	data, err := m.store.Load(ctx, m.opts.Name)
	switch {
	case err == nil:
		m.data = data
		m.logger.Debug("session loaded")
	case errors.Is(err, ErrNotFound):
		m.data = NewData()
	default:
		m.logger.Error("failed to load session", zap.Error(err))
		m.data = NewData()
	}
	return m
}

// FromPage creates a Manager and immediately extracts page state into it.
func FromPage(ctx context.Context, page types.Page, opts Options, mopts ...Option) (*Manager, error) {
	m := NewManager(ctx, opts, mopts...)
	if err := m.ExtractSession(ctx, page); err != nil {
		return nil, err
	}
	return m, nil
}

// FromBrowser opens a temporary page on browser, extracts from it and
// closes it again.
func FromBrowser(ctx context.Context, browser types.Browser, opts Options, mopts ...Option) (*Manager, error) {
	m := NewManager(ctx, opts, mopts...)
	page, err := browser.NewPage(ctx)
	if err != nil {
		return nil, types.WrapError(types.ErrSessionIO, "Failed to extract session", err)
	}
	defer func() {
		if err := page.Close(ctx); err != nil {
			m.logger.Warn("failed to close extraction page", zap.Error(err))
		}
	}()
	if err := m.ExtractSession(ctx, page); err != nil {
		return nil, err
	}
	return m, nil
}

// Name returns the session name.
func (m *Manager) Name() string { return m.opts.Name }

// Options returns the resolved options.
func (m *Manager) Options() Options {
	o := m.opts
	o.Domains = slices.Clone(m.opts.Domains)
	return o
}

// Store returns the backend.
func (m *Manager) Store() Store { return m.store }

// ApplySession pushes the stored cookies, storage and user agent into page,
// each only when persisted and non-empty.
func (m *Manager) ApplySession(ctx context.Context, page types.Page) error {
	data := m.GetSessionData()

	if err := m.apply(ctx, page, data); err != nil {
		m.logger.Error("failed to apply session to page", zap.Error(err))
		return types.WrapError(types.ErrSessionIO, "Failed to apply session", err)
	}

	m.emit(ctx, events.SessionApplied, &events.SessionEvent{
		SessionName:  m.opts.Name,
		Page:         page,
		Cookies:      len(data.Cookies),
		StorageItems: len(data.Storage.LocalStorage),
	})
	return nil
}

func (m *Manager) apply(ctx context.Context, page types.Page, data *Data) error {
	if m.opts.PersistCookies && len(data.Cookies) > 0 {
		if err := page.SetCookie(ctx, data.Cookies...); err != nil {
			return err
		}
		m.logger.Debug("applied cookies", zap.Int("count", len(data.Cookies)))
	}
	if m.opts.PersistLocalStorage && len(data.Storage.LocalStorage) > 0 {
		if err := page.Evaluate(ctx, setStorageScript, nil, "local", data.Storage.LocalStorage); err != nil {
			return err
		}
		m.logger.Debug("applied localStorage", zap.Int("items", len(data.Storage.LocalStorage)))
	}
	if m.opts.PersistSessionStorage && len(data.Storage.SessionStorage) > 0 {
		if err := page.Evaluate(ctx, setStorageScript, nil, "session", data.Storage.SessionStorage); err != nil {
			return err
		}
		m.logger.Debug("applied sessionStorage", zap.Int("items", len(data.Storage.SessionStorage)))
	}
	if m.opts.PersistUserAgent && data.UserAgent != "" {
		if err := page.SetUserAgent(ctx, data.UserAgent); err != nil {
			return err
		}
		m.logger.Debug("applied userAgent", zap.String("user_agent", data.UserAgent))
	}
	return nil
}

// ExtractSession reads the persisted parts of page state, replaces the
// session data with them and saves it.
func (m *Manager) ExtractSession(ctx context.Context, page types.Page) error {
	m.mu.Lock()
	next := m.data.Clone()
	m.mu.Unlock()

	if err := m.extract(ctx, page, next); err != nil {
		m.logger.Error("failed to extract session from page", zap.Error(err))
		return types.WrapError(types.ErrSessionIO, "Failed to extract session", err)
	}

	m.mu.Lock()
	err := m.commitLocked(ctx, next)
	cookies, items := len(next.Cookies), len(next.Storage.LocalStorage)
	m.mu.Unlock()
	if err != nil {
		return types.WrapError(types.ErrSessionIO, "Failed to extract session", err)
	}

	m.emit(ctx, events.SessionExtracted, &events.SessionEvent{
		SessionName:  m.opts.Name,
		Page:         page,
		Cookies:      cookies,
		StorageItems: items,
	})
	return nil
}

func (m *Manager) extract(ctx context.Context, page types.Page, data *Data) error {
	if m.opts.PersistCookies {
		cookies, err := page.Cookies(ctx)
		if err != nil {
			return err
		}
		data.Cookies = FilterCookies(cookies, m.opts.Domains)
		m.logger.Debug("extracted cookies", zap.Int("count", len(data.Cookies)))
	}
	if m.opts.PersistLocalStorage {
		items := map[string]string{}
		if err := page.Evaluate(ctx, readStorageScript, &items, "local"); err != nil {
			return err
		}
		data.Storage.LocalStorage = items
		m.logger.Debug("extracted localStorage", zap.Int("items", len(items)))
	}
	if m.opts.PersistSessionStorage {
		items := map[string]string{}
		if err := page.Evaluate(ctx, readStorageScript, &items, "session"); err != nil {
			return err
		}
		data.Storage.SessionStorage = items
		m.logger.Debug("extracted sessionStorage", zap.Int("items", len(items)))
	}
	if m.opts.PersistUserAgent {
		var ua string
		if err := page.Evaluate(ctx, userAgentScript, &ua); err != nil {
			return err
		}
		data.UserAgent = ua
		m.logger.Debug("extracted userAgent", zap.String("user_agent", ua))
	}
	data.normalize()
	return nil
}

// GetSessionData returns a copy of the current session.
func (m *Manager) GetSessionData() *Data {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Clone()
}

// HasData reports whether there is anything to apply.
func (m *Manager) HasData() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data.Cookies) > 0 || len(m.data.Storage.LocalStorage) > 0 ||
		len(m.data.Storage.SessionStorage) > 0 || m.data.UserAgent != ""
}

// SetSessionData merges patch into the session and saves it.
func (m *Manager) SetSessionData(ctx context.Context, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.data.Clone()
	patch.apply(next)
	return m.commitLocked(ctx, next)
}

// ClearSession resets the session to empty, saves it and emits
// session:cleared.
func (m *Manager) ClearSession(ctx context.Context) error {
	m.mu.Lock()
	err := m.commitLocked(ctx, NewData())
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.logger.Debug("session cleared")
	m.bus.Emit(ctx, events.SessionCleared, &events.SessionEvent{SessionName: m.opts.Name})
	return nil
}

// DeleteSession removes the stored session and resets the in-memory state.
// Unlike ClearSession nothing is written back, so the session no longer
// exists in the store afterwards.
func (m *Manager) DeleteSession(ctx context.Context) error {
	if err := m.store.Delete(ctx, m.opts.Name); err != nil {
		m.logger.Error("failed to delete session", zap.Error(err))
		return types.WrapError(types.ErrSessionIO, "Failed to delete session", err)
	}
	m.mu.Lock()
	m.data = NewData()
	m.mu.Unlock()

	m.logger.Debug("session deleted")
	m.bus.Emit(ctx, events.SessionCleared, &events.SessionEvent{SessionName: m.opts.Name})
	return nil
}

// commitLocked saves next and makes it the current session only when the
// store accepted it.
func (m *Manager) commitLocked(ctx context.Context, next *Data) error {
	next.LastAccessed = nowMillis()
	if err := m.store.Save(ctx, m.opts.Name, next); err != nil {
		m.logger.Error("failed to save session", zap.Error(err))
		return err
	}
	m.data = next
	m.logger.Debug("session saved")
	return nil
}

func (m *Manager) emit(ctx context.Context, name events.Name, payload *events.SessionEvent) {
	if _, err := m.bus.EmitAsync(ctx, name, payload); err != nil {
		m.logger.Warn("event listener failed", zap.String("event", string(name)), zap.Error(err))
	}
}
