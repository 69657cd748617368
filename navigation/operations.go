package navigation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/browser"
	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/plugins"
	"github.com/BaSui01/browserflow/types"
)

// DefaultSelectorTimeout bounds WaitForSelector when no timeout is given.
const DefaultSelectorTimeout = 30 * time.Second

// ClosePage closes page after running the BeforePageClose hook. Pages
// obtained from a browser.ManagedBrowser run the hook themselves. Close
// failures are reported to the error hooks and not returned.
func (n *Navigator) ClosePage(ctx context.Context, page types.Page) {
	if page == nil {
		return
	}
	if _, managed := page.(*browser.ManagedPage); !managed {
		n.plugins.ExecuteHook(ctx, plugins.HookBeforePageClose, pluginContext(page, nil),
			plugins.HookArgs{Page: page})
	}
	if err := page.Close(ctx); err != nil {
		n.logger.Warn("close page failed", zap.String("page", page.ID()), zap.Error(err))
		n.plugins.ExecuteErrorHook(ctx, err, pluginContext(page, nil))
	}
}

// WaitForNavigation waits for the next navigation of page. The error is
// returned after the error hooks saw it.
func (n *Navigator) WaitForNavigation(ctx context.Context, page types.Page, opts types.NavigationOptions) error {
	o := opts.WithDefaults()
	if err := page.WaitForNavigation(ctx, o.Goto()); err != nil {
		return n.fail(ctx, page, "wait_for_navigation", err, &o)
	}
	return nil
}

// WaitForSelector waits until selector is visible on page. A zero timeout
// means DefaultSelectorTimeout.
func (n *Navigator) WaitForSelector(ctx context.Context, page types.Page, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultSelectorTimeout
	}
	opts := types.SelectorOptions{Visible: true, Timeout: timeout}
	if err := page.WaitForSelector(ctx, selector, opts); err != nil {
		return n.fail(ctx, page, "wait_for_selector", err, map[string]any{"selector": selector, "timeout": timeout})
	}
	return nil
}

// Click clicks the first element matching selector.
func (n *Navigator) Click(ctx context.Context, page types.Page, selector string) error {
	if err := page.Click(ctx, selector); err != nil {
		return n.fail(ctx, page, "click", err, map[string]any{"selector": selector})
	}
	return nil
}

// Type types text into the element matching selector.
func (n *Navigator) Type(ctx context.Context, page types.Page, selector, text string) error {
	if err := page.Type(ctx, selector, text); err != nil {
		return n.fail(ctx, page, "type", err, map[string]any{"selector": selector})
	}
	return nil
}

// Evaluate runs fn in the page and decodes its result into out.
func (n *Navigator) Evaluate(ctx context.Context, page types.Page, fn string, out any, args ...any) error {
	if err := page.Evaluate(ctx, fn, out, args...); err != nil {
		return n.fail(ctx, page, "evaluate", err, nil)
	}
	return nil
}

// GetContent returns the page HTML.
func (n *Navigator) GetContent(ctx context.Context, page types.Page) (string, error) {
	html, err := page.Content(ctx)
	if err != nil {
		return "", n.fail(ctx, page, "get_content", err, nil)
	}
	return html, nil
}

// Title returns the page title.
func (n *Navigator) Title(ctx context.Context, page types.Page) (string, error) {
	title, err := page.Title(ctx)
	if err != nil {
		return "", n.fail(ctx, page, "title", err, nil)
	}
	return title, nil
}

// fail reports err on the bus and to the error hooks, then hands it back.
func (n *Navigator) fail(ctx context.Context, page types.Page, op string, err error, opts any) error {
	n.logger.Debug("page operation failed",
		zap.String("operation", op),
		zap.String("page", page.ID()),
		zap.Error(err))
	n.emit(ctx, events.Error, &events.ErrorEvent{
		Err:     err,
		Source:  "navigation",
		Context: map[string]any{"operation": op, "page": page.ID()},
	})
	n.plugins.ExecuteErrorHook(ctx, err, pluginContext(page, opts))
	return err
}
