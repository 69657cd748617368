package navigation

import (
	"context"
	"maps"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/browser"
	"github.com/BaSui01/browserflow/events"
	"github.com/BaSui01/browserflow/internal/ctxkeys"
	"github.com/BaSui01/browserflow/plugins"
	"github.com/BaSui01/browserflow/types"
)

var tracer = otel.Tracer("github.com/BaSui01/browserflow/navigation")

// Result is the outcome of a navigation with retries.
type Result struct {
	Success  bool
	Attempts int
	// Err is the last attempt's error, or the context error when the
	// retry loop was cut short. Nil on success.
	Err error
}

// Navigator performs page navigation with retries, running the plugin
// hooks and emitting navigation events around each attempt.
type Navigator struct {
	plugins *plugins.Manager
	bus     *events.Bus
	logger  *zap.Logger
}

// NewNavigator creates a navigator that dispatches through pm.
func NewNavigator(pm *plugins.Manager, logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pm == nil {
		pm = plugins.NewManager(nil, logger)
	}
	return &Navigator{
		plugins: pm,
		bus:     pm.Bus(),
		logger:  logger.With(zap.String("component", "navigator")),
	}
}

// Goto navigates page to url and reports whether any attempt succeeded.
func (n *Navigator) Goto(ctx context.Context, page types.Page, url string, opts types.NavigationOptions) bool {
	return n.Navigate(ctx, page, url, opts).Success
}

// contextFields 取出调用链上的请求、实例与会话标识
func contextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id, ok := ctxkeys.RequestID(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := ctxkeys.InstanceID(ctx); ok {
		fields = append(fields, zap.String("instance_id", id))
	}
	if name, ok := ctxkeys.SessionName(ctx); ok {
		fields = append(fields, zap.String("session", name))
	}
	return fields
}

// Navigate runs at most 1+MaxRetries attempts. After an unhandled failure
// it waits RetryDelay before the next attempt; when a plugin's error hook
// handled the failure the next attempt starts immediately. A handled
// failure still consumes an attempt.
func (n *Navigator) Navigate(ctx context.Context, page types.Page, url string, opts types.NavigationOptions) Result {
	o := opts.WithDefaults()
	maxAttempts := o.MaxRetries + 1

	var (
		lastErr  error
		attempts int
	)
	for attempts < maxAttempts {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		attempts++

		if o.Debug {
			n.logger.Debug("navigating",
				zap.String("url", url),
				zap.Int("attempt", attempts),
				zap.Int("max_attempts", maxAttempts))
		}

		err := n.attempt(ctx, page, url, &o, attempts)
		if err == nil {
			if o.Debug {
				n.logger.Debug("navigation succeeded", zap.String("url", url))
			}
			n.emit(ctx, events.NavigationSucceeded, &events.NavigationEvent{Page: page, URL: url, Attempt: attempts, Options: &o})
			n.plugins.ExecuteHook(ctx, plugins.HookAfterNavigation, pluginContext(page, &o),
				plugins.HookArgs{Page: page, URL: url, Success: true})
			return Result{Success: true, Attempts: attempts}
		}
		lastErr = err

		if o.Debug {
			n.logger.Debug("navigation error",
				zap.String("url", url),
				zap.Int("attempt", attempts),
				zap.Error(err))
		}

		if resetErr := page.SetRequestInterception(ctx, false); resetErr != nil {
			n.logger.Debug("reset request interception failed", zap.Error(resetErr))
		}

		n.emit(ctx, events.NavigationError, &events.NavigationEvent{Page: page, URL: url, Attempt: attempts, Options: &o, Err: err})
		handled := n.plugins.ExecuteErrorHook(ctx, err, pluginContext(page, &o))

		if attempts >= maxAttempts {
			break
		}
		if handled {
			continue
		}
		if o.Debug {
			n.logger.Debug("retrying navigation", zap.Duration("delay", o.RetryDelay))
		}
		if !sleep(ctx, o.RetryDelay) {
			lastErr = ctx.Err()
			break
		}
	}

	n.logger.Warn("navigation failed", append(contextFields(ctx),
		zap.String("url", url),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))...)
	n.emit(ctx, events.NavigationFailed, &events.NavigationEvent{Page: page, URL: url, Attempt: attempts, Options: &o, Err: lastErr})
	n.plugins.ExecuteHook(ctx, plugins.HookAfterNavigation, pluginContext(page, &o),
		plugins.HookArgs{Page: page, URL: url, Success: false})
	return Result{Success: false, Attempts: attempts, Err: lastErr}
}

func (n *Navigator) attempt(ctx context.Context, page types.Page, url string, o *types.NavigationOptions, attempt int) (err error) {
	ctx, span := tracer.Start(ctx, "navigation.attempt")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("url", url),
		attribute.Int("attempt", attempt),
	)

	n.emit(ctx, events.NavigationStarted, &events.NavigationEvent{Page: page, URL: url, Attempt: attempt, Options: o})
	n.plugins.ExecuteHook(ctx, plugins.HookBeforeNavigation, pluginContext(page, o),
		plugins.HookArgs{Page: page, URL: url, NavigationOptions: o})

	if err := page.SetRequestInterception(ctx, false); err != nil {
		return err
	}
	if err := page.SetRequestInterception(ctx, true); err != nil {
		return err
	}

	var (
		once   sync.Once
		remove func()
	)
	remove = page.OnRequest(func(req types.Request) {
		once.Do(func() {
			headers := req.Headers()
			if headers == nil {
				headers = make(map[string]string, len(o.Headers))
			}
			maps.Copy(headers, o.Headers)
			if err := req.Continue(headers); err != nil && o.Debug {
				n.logger.Debug("request continuation failed", zap.Error(err))
			}
		})
	})
	defer remove()

	if err := page.Goto(ctx, url, o.Goto()); err != nil {
		return err
	}
	return page.SetRequestInterception(ctx, false)
}

// sleep waits d or until ctx ends. It reports whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// pluginContext 每个调用点新建一份，插件对它的修改不会带到后续钩子
func pluginContext(page types.Page, opts any) *plugins.Context {
	pc := &plugins.Context{Page: page, Options: opts}
	if mp, ok := page.(*browser.ManagedPage); ok {
		if b := mp.Browser(); b != nil {
			pc.Browser = b
		}
	}
	return pc
}

func (n *Navigator) emit(ctx context.Context, name events.Name, payload any) {
	if _, err := n.bus.EmitAsync(ctx, name, payload); err != nil {
		n.logger.Warn("event listener failed",
			zap.String("event", string(name)),
			zap.Error(err))
	}
}
