package navigation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/internal/ctxkeys"
	"github.com/BaSui01/browserflow/plugins"
	"github.com/BaSui01/browserflow/testutil"
	"github.com/BaSui01/browserflow/testutil/mocks"
	"github.com/BaSui01/browserflow/types"
)

// navPlugin records navigation hooks and optionally handles errors.
type navPlugin struct {
	mu       sync.Mutex
	handle   bool
	before   []string
	after    []bool
	errs     []error
	mutateUA string
}

func (p *navPlugin) Name() string { return "nav-recorder" }

func (p *navPlugin) OnBeforeNavigation(_ context.Context, _ types.Page, url string, opts *types.NavigationOptions, _ *plugins.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.before = append(p.before, url)
	if p.mutateUA != "" {
		if opts.Headers == nil {
			opts.Headers = map[string]string{}
		}
		opts.Headers["User-Agent"] = p.mutateUA
	}
	return nil
}

func (p *navPlugin) OnAfterNavigation(_ context.Context, _ types.Page, _ string, success bool, _ *plugins.Context) error {
	p.mu.Lock()
	p.after = append(p.after, success)
	p.mu.Unlock()
	return nil
}

func (p *navPlugin) OnError(_ context.Context, err error, _ *plugins.Context) (bool, error) {
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
	return p.handle, nil
}

type fixture struct {
	nav    *Navigator
	plugin *navPlugin
	events *testutil.EventRecorder
}

func newFixture(t *testing.T, plugin *navPlugin) *fixture {
	t.Helper()
	bus := events.NewBus(zap.NewNop())
	pm := plugins.NewManager(bus, zap.NewNop())
	if plugin != nil {
		require.NoError(t, pm.RegisterPlugin(context.Background(), plugin, nil))
	}
	return &fixture{
		nav:    NewNavigator(pm, zap.NewNop()),
		plugin: plugin,
		events: testutil.NewEventRecorder(bus),
	}
}

func fastRetry(maxRetries int) types.NavigationOptions {
	return types.NavigationOptions{MaxRetries: maxRetries, RetryDelay: time.Millisecond}
}

func TestNavigator_GotoSucceeds(t *testing.T) {
	f := newFixture(t, &navPlugin{})
	page := mocks.NewMockPage("p1")

	res := f.nav.Navigate(context.Background(), page, "https://example.com", types.NavigationOptions{})

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.NoError(t, res.Err)
	assert.Equal(t, "https://example.com", page.URL())
	assert.Equal(t, []string{"https://example.com"}, f.plugin.before)
	assert.Equal(t, []bool{true}, f.plugin.after)

	opts := page.GotoOptions()
	require.Len(t, opts, 1)
	assert.Equal(t, types.DefaultWaitUntil, opts[0].WaitUntil)
	assert.Equal(t, types.DefaultNavigationTimeout, opts[0].Timeout)

	testutil.AssertEventuallyEqual(t, []events.Name{events.NavigationStarted, events.NavigationSucceeded},
		func() any { return f.events.Names() }, time.Second)
}

func TestNavigator_RetriesUpToMaxRetries(t *testing.T) {
	f := newFixture(t, &navPlugin{})
	boom := errors.New("net::ERR_CONNECTION_REFUSED")
	page := mocks.NewMockPage("p1").WithGotoErrors(boom, boom, boom, boom)

	res := f.nav.Navigate(context.Background(), page, "https://example.com", fastRetry(2))

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.ErrorIs(t, res.Err, boom)
	assert.Len(t, page.GotoCalls(), 3)
	assert.Equal(t, 3, f.events.Count(events.NavigationError))
	assert.Equal(t, 1, f.events.Count(events.NavigationFailed))
	assert.Equal(t, 0, f.events.Count(events.NavigationSucceeded))
	assert.Equal(t, []bool{false}, f.plugin.after)
	assert.Len(t, f.plugin.errs, 3)
}

func TestNavigator_SucceedsOnSecondAttempt(t *testing.T) {
	f := newFixture(t, &navPlugin{})
	page := mocks.NewMockPage("p1").WithGotoErrors(errors.New("timeout"))

	ok := f.nav.Goto(context.Background(), page, "https://example.com", fastRetry(1))

	assert.True(t, ok)
	assert.Len(t, page.GotoCalls(), 2)
	assert.Equal(t, []events.Name{
		events.NavigationStarted, events.NavigationError,
		events.NavigationStarted, events.NavigationSucceeded,
	}, navigationEvents(f.events.Names()))
	assert.Equal(t, []bool{true}, f.plugin.after)
}

func TestNavigator_NoRetry(t *testing.T) {
	f := newFixture(t, nil)
	page := mocks.NewMockPage("p1").WithGotoErrors(errors.New("fail"), errors.New("fail"))

	opts := fastRetry(5)
	opts.NoRetry = true
	res := f.nav.Navigate(context.Background(), page, "https://example.com", opts)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, page.GotoCalls(), 1)
}

func TestNavigator_HandledErrorRetriesImmediately(t *testing.T) {
	f := newFixture(t, &navPlugin{handle: true})
	page := mocks.NewMockPage("p1").WithGotoErrors(errors.New("captcha"))

	opts := types.NavigationOptions{MaxRetries: 1, RetryDelay: time.Hour}
	start := time.Now()
	res := f.nav.Navigate(context.Background(), page, "https://example.com", opts)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestNavigator_HandledErrorStillConsumesAttempt(t *testing.T) {
	f := newFixture(t, &navPlugin{handle: true})
	boom := errors.New("blocked")
	page := mocks.NewMockPage("p1").WithGotoErrors(boom, boom, boom)

	res := f.nav.Navigate(context.Background(), page, "https://example.com", types.NavigationOptions{MaxRetries: 1})

	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, page.GotoCalls(), 2)
	assert.Equal(t, 1, f.events.Count(events.NavigationFailed))
}

func TestNavigator_ContextCancelledDuringDelay(t *testing.T) {
	f := newFixture(t, &navPlugin{})
	page := mocks.NewMockPage("p1").WithGotoErrors(errors.New("fail"))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := f.nav.Navigate(ctx, page, "https://example.com",
		types.NavigationOptions{MaxRetries: 3, RetryDelay: time.Hour})

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, f.events.Count(events.NavigationFailed))
	assert.Equal(t, []bool{false}, f.plugin.after)
}

func TestNavigator_MergesHeadersIntoFirstRequest(t *testing.T) {
	f := newFixture(t, &navPlugin{mutateUA: "browserflow-test"})
	page := mocks.NewMockPage("p1").WithRequestHeaders(map[string]string{
		"Accept":          "text/html",
		"Accept-Language": "en",
	})

	opts := types.NavigationOptions{Headers: map[string]string{"Accept-Language": "zh-CN"}}
	require.True(t, f.nav.Goto(context.Background(), page, "https://example.com", opts))

	reqs := page.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]string{
		"Accept":          "text/html",
		"Accept-Language": "zh-CN",
		"User-Agent":      "browserflow-test",
	}, reqs[0].ContinuedHeaders())
	assert.True(t, reqs[0].Handled())

	// interception is reset before, enabled for, and disabled after the request
	assert.Equal(t, []bool{false, true, false}, page.InterceptionLog())
	req, _, _ := page.HandlerCount()
	assert.Zero(t, req, "request handler must be removed after navigation")
	assert.Empty(t, opts.Headers["User-Agent"], "caller options must not be mutated")
}

func TestNavigator_PassesWaitConditionsToEngine(t *testing.T) {
	f := newFixture(t, nil)
	var got []types.GotoOptions
	page := mocks.NewMockPage("p1").WithGotoFunc(func(_ context.Context, _ string, o types.GotoOptions) error {
		got = append(got, o)
		if len(got) == 1 {
			return errors.New("net::ERR_TIMED_OUT")
		}
		return nil
	})

	opts := fastRetry(1)
	opts.WaitUntil = []types.WaitUntil{types.WaitDOMContentLoaded}
	opts.Timeout = 5 * time.Second
	res := f.nav.Navigate(context.Background(), page, "https://example.com", opts)

	require.True(t, res.Success)
	require.Len(t, got, 2)
	for _, o := range got {
		assert.Equal(t, []types.WaitUntil{types.WaitDOMContentLoaded}, o.WaitUntil)
		assert.Equal(t, 5*time.Second, o.Timeout)
	}
}

func TestNavigator_NoRetryDelayRetriesImmediately(t *testing.T) {
	f := newFixture(t, nil)
	failure := errors.New("net::ERR_CONNECTION_RESET")
	page := mocks.NewMockPage("p1").WithGotoFunc(func(context.Context, string, types.GotoOptions) error {
		return failure
	})

	// 若仍按 RetryDelay 等待，ctx 会先超时
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opts := types.NavigationOptions{MaxRetries: 2, RetryDelay: time.Hour, NoRetryDelay: true}
	res := f.nav.Navigate(ctx, page, "https://example.com", opts)

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.ErrorIs(t, res.Err, failure)
}

func TestNavigator_NoTimeoutPassesNoDeadline(t *testing.T) {
	f := newFixture(t, nil)
	page := mocks.NewMockPage("p1")

	opts := types.NavigationOptions{Timeout: time.Minute, NoTimeout: true}
	require.True(t, f.nav.Goto(context.Background(), page, "https://example.com", opts))

	got := page.GotoOptions()
	require.Len(t, got, 1)
	assert.Zero(t, got[0].Timeout)
}

// ctxPlugin 记录收到的插件上下文，并在每次钩子中篡改它
type ctxPlugin struct {
	mu   sync.Mutex
	seen []*plugins.Context
}

func (p *ctxPlugin) Name() string { return "ctx-mutator" }

func (p *ctxPlugin) record(pc *plugins.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, &plugins.Context{Browser: pc.Browser, Page: pc.Page, Options: pc.Options})
	pc.Page = nil
	pc.Options = "tampered"
}

func (p *ctxPlugin) OnBeforeNavigation(_ context.Context, _ types.Page, _ string, _ *types.NavigationOptions, pc *plugins.Context) error {
	p.record(pc)
	return nil
}

func (p *ctxPlugin) OnAfterNavigation(_ context.Context, _ types.Page, _ string, _ bool, pc *plugins.Context) error {
	p.record(pc)
	return nil
}

func (p *ctxPlugin) OnError(_ context.Context, _ error, pc *plugins.Context) (bool, error) {
	p.record(pc)
	return false, nil
}

func TestNavigator_FreshPluginContextPerHook(t *testing.T) {
	bus := events.NewBus(zap.NewNop())
	pm := plugins.NewManager(bus, zap.NewNop())
	plugin := &ctxPlugin{}
	require.NoError(t, pm.RegisterPlugin(context.Background(), plugin, nil))
	nav := NewNavigator(pm, zap.NewNop())

	page := mocks.NewMockPage("p1").WithGotoErrors(errors.New("net::ERR_TIMED_OUT"))
	require.True(t, nav.Goto(context.Background(), page, "https://example.com", fastRetry(1)))

	// before, error, before, after
	require.Len(t, plugin.seen, 4)
	for i, pc := range plugin.seen {
		assert.Same(t, page, pc.Page, "hook %d", i)
		assert.IsType(t, &types.NavigationOptions{}, pc.Options, "hook %d", i)
	}
}

func TestNavigator_DisablesInterceptionAfterFailure(t *testing.T) {
	f := newFixture(t, nil)
	page := mocks.NewMockPage("p1").WithGotoErrors(errors.New("fail"))

	res := f.nav.Navigate(context.Background(), page, "https://example.com", types.NavigationOptions{NoRetry: true})

	require.False(t, res.Success)
	log := page.InterceptionLog()
	require.NotEmpty(t, log)
	assert.False(t, log[len(log)-1])
}

func TestNavigator_EventPayloads(t *testing.T) {
	f := newFixture(t, nil)
	boom := errors.New("fail")
	page := mocks.NewMockPage("p1").WithGotoErrors(boom)

	f.nav.Navigate(context.Background(), page, "https://example.com", fastRetry(1))

	errs := f.events.Payloads(events.NavigationError)
	require.Len(t, errs, 1)
	ev := errs[0].(*events.NavigationEvent)
	assert.Equal(t, "https://example.com", ev.URL)
	assert.Equal(t, 1, ev.Attempt)
	assert.ErrorIs(t, ev.Err, boom)
	assert.Same(t, page, ev.Page)

	ok := f.events.Payloads(events.NavigationSucceeded)
	require.Len(t, ok, 1)
	assert.Equal(t, 2, ok[0].(*events.NavigationEvent).Attempt)
}

func navigationEvents(names []events.Name) []events.Name {
	var out []events.Name
	for _, n := range names {
		switch n {
		case events.NavigationStarted, events.NavigationSucceeded, events.NavigationError, events.NavigationFailed:
			out = append(out, n)
		}
	}
	return out
}

func TestNavigator_FailureLogCarriesContextIDs(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	bus := events.NewBus(zap.NewNop())
	nav := NewNavigator(plugins.NewManager(bus, zap.NewNop()), zap.New(core))

	ctx := ctxkeys.WithRequestID(context.Background(), "req-7")
	ctx = ctxkeys.WithInstanceID(ctx, "shop")
	ctx = ctxkeys.WithSessionName(ctx, "acct")
	page := mocks.NewMockPage("p1").WithGotoErrors(errors.New("net::ERR_NAME_NOT_RESOLVED"))

	opts := fastRetry(0)
	opts.NoRetry = true
	res := nav.Navigate(ctx, page, "https://example.invalid", opts)
	require.False(t, res.Success)

	entries := logs.FilterMessage("navigation failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-7", fields["request_id"])
	assert.Equal(t, "shop", fields["instance_id"])
	assert.Equal(t, "acct", fields["session"])
}
