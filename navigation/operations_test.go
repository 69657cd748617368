package navigation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/browser"
	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/plugins"
	"github.com/BaSui01/browserflow/testutil/mocks"
	"github.com/BaSui01/browserflow/types"
)

type closeRecorder struct{ closes int }

func (p *closeRecorder) Name() string { return "close-recorder" }

func (p *closeRecorder) OnBeforePageClose(context.Context, types.Page, *plugins.Context) error {
	p.closes++
	return nil
}

func TestNavigator_PageOperationsReportErrors(t *testing.T) {
	boom := errors.New("element not found")

	tests := []struct {
		name string
		page *mocks.MockPage
		run  func(n *Navigator, p types.Page) error
	}{
		{
			name: "click",
			page: mocks.NewMockPage("p").WithClickError(boom),
			run:  func(n *Navigator, p types.Page) error { return n.Click(context.Background(), p, "#go") },
		},
		{
			name: "wait for selector",
			page: mocks.NewMockPage("p").WithSelectorError(boom),
			run:  func(n *Navigator, p types.Page) error { return n.WaitForSelector(context.Background(), p, "#go", 0) },
		},
		{
			name: "wait for navigation",
			page: mocks.NewMockPage("p").WithWaitForNavigationError(boom),
			run: func(n *Navigator, p types.Page) error {
				return n.WaitForNavigation(context.Background(), p, types.NavigationOptions{})
			},
		},
		{
			name: "evaluate",
			page: mocks.NewMockPage("p").WithEvaluate(func(string, any, ...any) error { return boom }),
			run: func(n *Navigator, p types.Page) error {
				return n.Evaluate(context.Background(), p, "() => 1", nil)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plugin := &navPlugin{}
			f := newFixture(t, plugin)

			err := tt.run(f.nav, tt.page)

			assert.ErrorIs(t, err, boom)
			require.Len(t, plugin.errs, 1)
			assert.ErrorIs(t, plugin.errs[0], boom)

			var sources []string
			for _, p := range f.events.Payloads(events.Error) {
				sources = append(sources, p.(*events.ErrorEvent).Source)
			}
			assert.Equal(t, []string{"navigation", "plugin-manager"}, sources)
		})
	}
}

func TestNavigator_PageOperationsSucceed(t *testing.T) {
	f := newFixture(t, nil)
	page := mocks.NewMockPage("p").WithContent("<html><body>hi</body></html>").WithTitle("Hi")
	ctx := context.Background()

	require.NoError(t, f.nav.Click(ctx, page, "#a"))
	require.NoError(t, f.nav.Type(ctx, page, "#q", "hello"))

	html, err := f.nav.GetContent(ctx, page)
	require.NoError(t, err)
	assert.Contains(t, html, "hi")

	title, err := f.nav.Title(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, "Hi", title)

	var ua string
	require.NoError(t, f.nav.Evaluate(ctx, page, "() => navigator.userAgent", &ua))
	assert.NotEmpty(t, ua)

	assert.Equal(t, []string{"#a"}, page.Clicks())
	assert.Equal(t, []string{"#q=hello"}, page.Typed())
	assert.Zero(t, f.events.Count(events.Error))
}

func TestNavigator_ClosePage(t *testing.T) {
	t.Run("raw page runs hook", func(t *testing.T) {
		bus := events.NewBus(zap.NewNop())
		pm := plugins.NewManager(bus, zap.NewNop())
		rec := &closeRecorder{}
		require.NoError(t, pm.RegisterPlugin(context.Background(), rec, nil))
		nav := NewNavigator(pm, zap.NewNop())

		page := mocks.NewMockPage("p")
		nav.ClosePage(context.Background(), page)

		assert.True(t, page.Closed())
		assert.Equal(t, 1, rec.closes)
	})

	t.Run("managed page runs hook once", func(t *testing.T) {
		bus := events.NewBus(zap.NewNop())
		pm := plugins.NewManager(bus, zap.NewNop())
		rec := &closeRecorder{}
		require.NoError(t, pm.RegisterPlugin(context.Background(), rec, nil))
		mgr := browser.NewManager(mocks.NewMockLauncher(), pm, zap.NewNop())
		nav := NewNavigator(pm, zap.NewNop())

		b, err := mgr.GetBrowser(context.Background(), types.DefaultLaunchOptions())
		require.NoError(t, err)
		page, err := b.OpenPage(context.Background())
		require.NoError(t, err)

		nav.ClosePage(context.Background(), page)
		assert.Equal(t, 1, rec.closes)
	})

	t.Run("close error is swallowed", func(t *testing.T) {
		plugin := &navPlugin{}
		f := newFixture(t, plugin)
		page := mocks.NewMockPage("p").WithCloseError(errors.New("target closed"))

		assert.NotPanics(t, func() { f.nav.ClosePage(context.Background(), page) })
		require.Len(t, plugin.errs, 1)
		assert.Equal(t, 1, f.events.Count(events.Error))
	})
}
