package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/testutil"
	"github.com/BaSui01/browserflow/testutil/fixtures"
	"github.com/BaSui01/browserflow/testutil/mocks"
	"github.com/BaSui01/browserflow/types"
)

// webStorage fakes localStorage and sessionStorage behind MockPage.Evaluate.
type webStorage struct {
	mu      sync.Mutex
	local   map[string]string
	session map[string]string
	err     error
}

func newWebStorage() *webStorage {
	return &webStorage{local: map[string]string{}, session: map[string]string{}}
}

func (w *webStorage) area(name string) map[string]string {
	if name == "session" {
		return w.session
	}
	return w.local
}

func (w *webStorage) evaluate(ua string) mocks.EvaluateFunc {
	return func(fn string, out any, args ...any) error {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.err != nil {
			return w.err
		}
		switch {
		case fn == userAgentScript:
			return mocks.AssignJSON(out, ua)
		case fn == readStorageScript:
			return mocks.AssignJSON(out, w.area(args[0].(string)))
		case fn == setStorageScript:
			dst := w.area(args[0].(string))
			for k, v := range args[1].(map[string]string) {
				dst[k] = v
			}
			return nil
		}
		return errors.New("unexpected script")
	}
}

func pageWith(storage *webStorage, ua string, cookies ...types.Cookie) *mocks.MockPage {
	return mocks.NewMockPage("p").WithEvaluate(storage.evaluate(ua)).WithCookies(cookies...)
}

var testCookies = fixtures.SessionCookies()

func newTestManager(t *testing.T, opts Options) (*Manager, *MemoryStore, *testutil.EventRecorder) {
	t.Helper()
	store := NewMemoryStore()
	bus := events.NewBus(zap.NewNop())
	rec := testutil.NewEventRecorder(bus)
	return NewManager(context.Background(), opts, WithStore(store), WithBus(bus)), store, rec
}

func TestManager_NewStartsEmpty(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultOptions())

	data := m.GetSessionData()
	assert.Empty(t, data.Cookies)
	assert.NotNil(t, data.Storage.LocalStorage)
	assert.NotNil(t, data.Storage.SessionStorage)
	assert.NotZero(t, data.LastAccessed)
	assert.False(t, m.HasData())
	assert.Equal(t, DefaultName, m.Name())
}

func TestManager_LoadsExistingSession(t *testing.T) {
	store := NewMemoryStore()
	stored := NewData()
	stored.UserAgent = "stored-agent"
	require.NoError(t, store.Save(context.Background(), "work", stored))

	m := NewManager(context.Background(), Options{Name: "work"}, WithStore(store))
	assert.Equal(t, "stored-agent", m.GetSessionData().UserAgent)
}

func TestManager_LoadFailureFallsBackToEmpty(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	m := NewManager(context.Background(), DefaultOptions(), WithStore(store))
	assert.Empty(t, m.GetSessionData().Cookies)
}

func TestManager_ExtractSession(t *testing.T) {
	m, store, rec := newTestManager(t, DefaultOptions())
	storage := newWebStorage()
	storage.local["token"] = "abc"
	storage.session["tab"] = "1"
	page := pageWith(storage, "agent/1.0", testCookies...)

	require.NoError(t, m.ExtractSession(context.Background(), page))

	data := m.GetSessionData()
	testutil.AssertCookiesEqual(t, testCookies, data.Cookies)
	assert.Equal(t, map[string]string{"token": "abc"}, data.Storage.LocalStorage)
	assert.Empty(t, data.Storage.SessionStorage, "sessionStorage is not persisted by default")
	assert.Equal(t, "agent/1.0", data.UserAgent)

	saved, err := store.Load(context.Background(), DefaultName)
	require.NoError(t, err)
	assert.Equal(t, data, saved)

	payloads := rec.Payloads(events.SessionExtracted)
	require.Len(t, payloads, 1)
	ev := payloads[0].(*events.SessionEvent)
	assert.Equal(t, DefaultName, ev.SessionName)
	assert.Equal(t, 3, ev.Cookies)
	assert.Equal(t, 1, ev.StorageItems)
}

func TestManager_ExtractFiltersDomains(t *testing.T) {
	opts := DefaultOptions()
	opts.Domains = []string{"example.com"}
	m, _, _ := newTestManager(t, opts)

	require.NoError(t, m.ExtractSession(context.Background(), pageWith(newWebStorage(), "ua", testCookies...)))

	var names []string
	for _, c := range m.GetSessionData().Cookies {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"sid", "pref"}, names)
}

func TestManager_RoundTrip(t *testing.T) {
	opts := DefaultOptions()
	opts.PersistSessionStorage = true
	m, _, rec := newTestManager(t, opts)

	src := newWebStorage()
	src.local["a"] = "1"
	src.session["b"] = "2"
	require.NoError(t, m.ExtractSession(context.Background(), pageWith(src, "agent/2.0", testCookies...)))

	dst := newWebStorage()
	fresh := pageWith(dst, "default-agent")
	require.NoError(t, m.ApplySession(context.Background(), fresh))

	got, err := fresh.Cookies(context.Background())
	require.NoError(t, err)
	testutil.AssertCookiesEqual(t, testCookies, got)
	assert.Equal(t, src.local, dst.local)
	assert.Equal(t, src.session, dst.session)
	assert.Equal(t, "agent/2.0", fresh.UserAgent())
	assert.Equal(t, 1, rec.Count(events.SessionApplied))
}

func TestManager_ApplySkipsDisabledAndEmpty(t *testing.T) {
	opts := Options{Name: "bare", PersistCookies: false, PersistUserAgent: false}
	m, _, _ := newTestManager(t, opts)
	ua := "ua"
	require.NoError(t, m.SetSessionData(context.Background(), Patch{Cookies: testCookies, UserAgent: &ua}))

	page := mocks.NewMockPage("p")
	require.NoError(t, m.ApplySession(context.Background(), page))

	got, _ := page.Cookies(context.Background())
	assert.Empty(t, got)
	assert.Equal(t, "Mozilla/5.0 (MockBrowser)", page.UserAgent())
}

func TestManager_ApplyAndExtractErrors(t *testing.T) {
	storage := newWebStorage()
	storage.local["k"] = "v"
	m, _, _ := newTestManager(t, DefaultOptions())
	require.NoError(t, m.ExtractSession(context.Background(), pageWith(storage, "ua")))

	broken := newWebStorage()
	broken.err = errors.New("execution context was destroyed")
	page := pageWith(broken, "ua")

	err := m.ApplySession(context.Background(), page)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "Failed to apply session: "))
	assert.Equal(t, types.ErrSessionIO, types.GetErrorCode(err))

	err = m.ExtractSession(context.Background(), page)
	require.Error(t, err)
	assert.Equal(t, "Failed to extract session: execution context was destroyed", err.Error())
	assert.Equal(t, map[string]string{"k": "v"}, m.GetSessionData().Storage.LocalStorage,
		"a failed extraction must not clobber the session")
}

// flakyStore 在 failSave 打开时拒绝写入
type flakyStore struct {
	*MemoryStore
	failSave bool
}

func (s *flakyStore) Save(ctx context.Context, name string, data *Data) error {
	if s.failSave {
		return errors.New("disk full")
	}
	return s.MemoryStore.Save(ctx, name, data)
}

func TestManager_FailedSaveKeepsPreviousState(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	bus := events.NewBus(zap.NewNop())
	rec := testutil.NewEventRecorder(bus)
	m := NewManager(context.Background(), DefaultOptions(), WithStore(store), WithBus(bus))
	ctx := context.Background()

	first := newWebStorage()
	first.local["k"] = "v"
	require.NoError(t, m.ExtractSession(ctx, pageWith(first, "agent/1.0", testCookies...)))
	before := m.GetSessionData()

	store.failSave = true
	second := newWebStorage()
	second.local["k"] = "changed"
	err := m.ExtractSession(ctx, pageWith(second, "agent/2.0"))
	require.Error(t, err)
	assert.Equal(t, types.ErrSessionIO, types.GetErrorCode(err))

	ua := "patched"
	require.Error(t, m.SetSessionData(ctx, Patch{UserAgent: &ua}))
	require.Error(t, m.ClearSession(ctx))

	assert.Equal(t, before, m.GetSessionData(), "memory must match what the store last accepted")
	assert.Equal(t, 1, rec.Count(events.SessionExtracted))
	assert.Equal(t, 0, rec.Count(events.SessionCleared))

	store.failSave = false
	require.NoError(t, m.SetSessionData(ctx, Patch{UserAgent: &ua}))
	saved, err := store.Load(ctx, DefaultName)
	require.NoError(t, err)
	assert.Equal(t, "patched", saved.UserAgent)
	assert.Equal(t, map[string]string{"k": "v"}, saved.Storage.LocalStorage)
}

func TestManager_SetSessionData(t *testing.T) {
	m, store, _ := newTestManager(t, DefaultOptions())
	ctx := context.Background()
	ua := "patched"

	require.NoError(t, m.SetSessionData(ctx, Patch{UserAgent: &ua}))
	require.NoError(t, m.SetSessionData(ctx, Patch{Storage: &Storage{LocalStorage: map[string]string{"x": "y"}}}))

	data := m.GetSessionData()
	assert.Equal(t, "patched", data.UserAgent)
	assert.Equal(t, map[string]string{"x": "y"}, data.Storage.LocalStorage)
	assert.NotNil(t, data.Storage.SessionStorage)

	saved, err := store.Load(ctx, DefaultName)
	require.NoError(t, err)
	assert.Equal(t, "patched", saved.UserAgent)
}

func TestManager_GetSessionDataIsACopy(t *testing.T) {
	m, _, _ := newTestManager(t, DefaultOptions())
	require.NoError(t, m.SetSessionData(context.Background(), Patch{Cookies: testCookies}))

	data := m.GetSessionData()
	data.Cookies[0].Value = "mutated"
	assert.Equal(t, "abc", m.GetSessionData().Cookies[0].Value)
}

func TestManager_ClearSession(t *testing.T) {
	m, store, rec := newTestManager(t, DefaultOptions())
	ctx := context.Background()
	require.NoError(t, m.SetSessionData(ctx, Patch{Cookies: testCookies}))

	require.NoError(t, m.ClearSession(ctx))

	assert.False(t, m.HasData())
	saved, err := store.Load(ctx, DefaultName)
	require.NoError(t, err)
	assert.Empty(t, saved.Cookies)
	assert.Equal(t, 1, rec.Count(events.SessionCleared))
}

func TestManager_DeleteSession(t *testing.T) {
	m, store, rec := newTestManager(t, DefaultOptions())
	ctx := context.Background()
	require.NoError(t, m.SetSessionData(ctx, Patch{Cookies: testCookies}))

	require.NoError(t, m.DeleteSession(ctx))

	_, err := store.Load(ctx, DefaultName)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, m.HasData())
	assert.Equal(t, 1, rec.Count(events.SessionCleared))
}

func TestFromPageAndBrowser(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	m, err := FromPage(ctx, pageWith(newWebStorage(), "ua", testCookies...), DefaultOptions(), WithStore(store))
	require.NoError(t, err)
	assert.Len(t, m.GetSessionData().Cookies, 3)

	b := mocks.NewMockBrowser()
	m, err = FromBrowser(ctx, b, Options{Name: "from-browser", PersistCookies: true}, WithStore(store))
	require.NoError(t, err)
	assert.Empty(t, m.GetSessionData().Cookies)
	require.Len(t, b.Pages(), 1)
	assert.True(t, b.Pages()[0].Closed())

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultName, "from-browser"}, names)
}

func TestFromBrowser_NewPageFails(t *testing.T) {
	b := mocks.NewMockBrowser().WithNewPageError(errors.New("target crashed"))

	_, err := FromBrowser(context.Background(), b, DefaultOptions(), WithStore(NewMemoryStore()))
	require.Error(t, err)
	assert.Equal(t, "Failed to extract session: target crashed", err.Error())
}
