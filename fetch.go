package browserflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/internal/ctxkeys"
	"github.com/BaSui01/browserflow/internal/telemetry"
	"github.com/BaSui01/browserflow/session"
	"github.com/BaSui01/browserflow/types"
)

// FetchOptions tune a single Fetch. Zero values fall back to the App's
// configured defaults.
type FetchOptions struct {
	// Launch replaces the default launch options; browsers are shared per
	// resulting instance ID.
	Launch *types.LaunchOptions `json:"launch,omitempty"`

	// Navigation replaces the default navigation options.
	Navigation *types.NavigationOptions `json:"navigation,omitempty"`

	// Session names a stored session to apply before navigating and to
	// update after a successful load. Empty means no per-request session.
	Session string `json:"session,omitempty"`
}

// FetchResult is the loaded page.
type FetchResult struct {
	URL        string        `json:"url"`
	FinalURL   string        `json:"final_url"`
	Title      string        `json:"title"`
	Content    string        `json:"content"`
	Attempts   int           `json:"attempts"`
	InstanceID string        `json:"instance_id"`
	Duration   time.Duration `json:"duration"`
}

// Fetch opens a page, navigates to url with retries and returns the page
// content. The page is always closed before returning.
func (a *App) Fetch(ctx context.Context, url string, opts FetchOptions) (res *FetchResult, err error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	if url == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "url is required")
	}

	ctx, span := telemetry.StartSpan(ctx, "browserflow.fetch",
		attribute.String("url", url),
		attribute.String("session", opts.Session))
	defer func() { telemetry.EndSpan(span, err) }()

	a.mu.RLock()
	launch := a.launch.Clone()
	nav := a.nav
	sessOpts := a.sess
	a.mu.RUnlock()
	if opts.Launch != nil {
		launch = opts.Launch.Clone()
	}
	if opts.Navigation != nil {
		nav = *opts.Navigation
	}

	start := time.Now()
	b, err := a.browsers.GetBrowser(ctx, launch)
	if err != nil {
		return nil, err
	}

	ctx = ctxkeys.WithInstanceID(ctx, b.ID())
	if opts.Session != "" {
		ctx = ctxkeys.WithSessionName(ctx, opts.Session)
	}

	page, err := b.OpenPage(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := page.Close(context.WithoutCancel(ctx)); cerr != nil {
			a.logger.Warn("failed to close page", zap.Error(cerr))
		}
	}()

	var sm *session.Manager
	if opts.Session != "" {
		sessOpts.Name = opts.Session
		mopts := []session.Option{session.WithBus(a.bus), session.WithLogger(a.logger)}
		if a.store != nil {
			mopts = append(mopts, session.WithStore(a.store))
		}
		sm = session.NewManager(ctx, sessOpts, mopts...)
		if err := sm.ApplySession(ctx, page); err != nil {
			return nil, err
		}
	}

	navStart := time.Now()
	result := a.navigator.Navigate(ctx, page, url, nav)
	if a.observeNavigation != nil {
		a.observeNavigation(result.Success, time.Since(navStart))
	}
	span.SetAttributes(attribute.Int("attempts", result.Attempts))
	if !result.Success {
		return nil, types.WrapError(types.ErrNavigationFailed, "Failed to navigate to "+url, result.Err)
	}

	content, err := a.navigator.GetContent(ctx, page)
	if err != nil {
		return nil, err
	}
	title, err := a.navigator.Title(ctx, page)
	if err != nil {
		return nil, err
	}

	if sm != nil {
		// 内容已取到，会话保存失败只记录
		if err := sm.ExtractSession(ctx, page); err != nil {
			a.logger.Warn("failed to extract session",
				zap.String("session", opts.Session),
				zap.Error(err))
		}
	}

	return &FetchResult{
		URL:        url,
		FinalURL:   page.URL(),
		Title:      title,
		Content:    content,
		Attempts:   result.Attempts,
		InstanceID: b.ID(),
		Duration:   time.Since(start),
	}, nil
}
