package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/types"
)

const defaultActionTimeout = 30 * time.Second

// 生命周期事件名与 waitUntil 条件的对应关系
var lifecycleNames = map[types.WaitUntil]string{
	types.WaitLoad:             "load",
	types.WaitDOMContentLoaded: "DOMContentLoaded",
	types.WaitNetworkIdle0:     "networkIdle",
	types.WaitNetworkIdle2:     "networkAlmostIdle",
}

// chromedpPage 实现 types.Page，对应一个 chromedp 标签页上下文
type chromedpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
	id     string
	auth   *proxyAuth
	logger *zap.Logger

	mu           sync.Mutex
	intercepting bool
	fetchEnabled bool
	nextID       int
	onRequest    map[int]types.RequestHandler
	onError      map[int]func(error)
	onLoad       map[int]func()
	watchers     map[int]chan *page.EventLifecycleEvent
}

func newChromedpPage(tabCtx context.Context, cancel context.CancelFunc, auth *proxyAuth, logger *zap.Logger) *chromedpPage {
	id := ""
	if c := chromedp.FromContext(tabCtx); c != nil && c.Target != nil {
		id = string(c.Target.TargetID)
	}
	return &chromedpPage{
		ctx:       tabCtx,
		cancel:    cancel,
		id:        id,
		auth:      auth,
		logger:    logger.With(zap.String("page_id", id)),
		onRequest: make(map[int]types.RequestHandler),
		onError:   make(map[int]func(error)),
		onLoad:    make(map[int]func()),
		watchers:  make(map[int]chan *page.EventLifecycleEvent),
	}
}

// init 注册事件监听，开启生命周期事件；有代理凭据时开启 Fetch 以应答认证
func (p *chromedpPage) init(ctx context.Context) error {
	chromedp.ListenTarget(p.ctx, p.handleEvent)

	actions := []chromedp.Action{page.SetLifecycleEventsEnabled(true)}
	if p.auth != nil {
		actions = append(actions, p.fetchEnable())
		p.fetchEnabled = true
	}
	if err := p.run(ctx, defaultActionTimeout, actions...); err != nil {
		return fmt.Errorf("init page: %w", err)
	}
	return nil
}

func (p *chromedpPage) fetchEnable() chromedp.Action {
	return fetch.Enable().
		WithHandleAuthRequests(p.auth != nil).
		WithPatterns([]*fetch.RequestPattern{{URLPattern: "*"}})
}

// run 在标签页上下文中执行动作，同时响应调用方 ctx 的取消
func (p *chromedpPage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(p.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// executor 返回可在事件回调 goroutine 中直接执行 CDP 命令的上下文
func (p *chromedpPage) executor() context.Context {
	c := chromedp.FromContext(p.ctx)
	return cdp.WithExecutor(p.ctx, c.Target)
}

func (p *chromedpPage) handleEvent(ev any) {
	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		go p.handlePaused(e)
	case *fetch.EventAuthRequired:
		go p.handleAuth(e)
	case *runtime.EventExceptionThrown:
		err := exceptionError(e.ExceptionDetails)
		p.mu.Lock()
		handlers := make([]func(error), 0, len(p.onError))
		for _, h := range p.onError {
			handlers = append(handlers, h)
		}
		p.mu.Unlock()
		go func() {
			for _, h := range handlers {
				h(err)
			}
		}()
	case *page.EventLoadEventFired:
		p.mu.Lock()
		handlers := make([]func(), 0, len(p.onLoad))
		for _, h := range p.onLoad {
			handlers = append(handlers, h)
		}
		p.mu.Unlock()
		go func() {
			for _, h := range handlers {
				h()
			}
		}()
	case *page.EventLifecycleEvent:
		p.mu.Lock()
		for _, ch := range p.watchers {
			select {
			case ch <- e:
			default:
			}
		}
		p.mu.Unlock()
	}
}

func exceptionError(d *runtime.ExceptionDetails) error {
	if d == nil {
		return errors.New("page exception")
	}
	if d.Exception != nil && d.Exception.Description != "" {
		return errors.New(d.Exception.Description)
	}
	return errors.New(d.Text)
}

func (p *chromedpPage) handlePaused(e *fetch.EventRequestPaused) {
	p.mu.Lock()
	var handlers []types.RequestHandler
	if p.intercepting {
		handlers = make([]types.RequestHandler, 0, len(p.onRequest))
		for _, h := range p.onRequest {
			handlers = append(handlers, h)
		}
	}
	p.mu.Unlock()

	req := &chromedpRequest{page: p, ev: e}
	for _, h := range handlers {
		h(req)
	}
	if !req.isHandled() {
		if err := req.Continue(nil); err != nil {
			p.logger.Debug("continue request failed", zap.String("url", e.Request.URL), zap.Error(err))
		}
	}
}

func (p *chromedpPage) handleAuth(e *fetch.EventAuthRequired) {
	resp := &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseDefault}
	if p.auth != nil {
		resp = &fetch.AuthChallengeResponse{
			Response: fetch.AuthChallengeResponseResponseProvideCredentials,
			Username: p.auth.Username,
			Password: p.auth.Password,
		}
	}
	if err := fetch.ContinueWithAuth(e.RequestID, resp).Do(p.executor()); err != nil {
		p.logger.Debug("continue with auth failed", zap.Error(err))
	}
}

func (p *chromedpPage) watchLifecycle() (<-chan *page.EventLifecycleEvent, func()) {
	ch := make(chan *page.EventLifecycleEvent, 256)
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.watchers[id] = ch
	p.mu.Unlock()
	return ch, func() {
		p.mu.Lock()
		delete(p.watchers, id)
		p.mu.Unlock()
	}
}

func pendingNames(waitUntil []types.WaitUntil) map[string]bool {
	if len(waitUntil) == 0 {
		waitUntil = []types.WaitUntil{types.WaitLoad}
	}
	pending := make(map[string]bool, len(waitUntil))
	for _, w := range waitUntil {
		if name, ok := lifecycleNames[w]; ok {
			pending[name] = true
		}
	}
	return pending
}

func waitLifecycle(ctx context.Context, ch <-chan *page.EventLifecycleEvent, frameID cdp.FrameID, loaderID cdp.LoaderID, pending map[string]bool) error {
	for len(pending) > 0 {
		select {
		case ev := <-ch:
			if ev.FrameID == frameID && ev.LoaderID == loaderID {
				delete(pending, ev.Name)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func timeoutError(err error, what string, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s timeout of %d ms exceeded", what, timeout.Milliseconds())
	}
	return err
}

// --- types.Page 实现 ---

func (p *chromedpPage) ID() string { return p.id }

func (p *chromedpPage) URL() string {
	var loc string
	if err := p.run(context.Background(), 5*time.Second, chromedp.Location(&loc)); err != nil {
		return ""
	}
	return loc
}

// Goto 导航并等待 waitUntil 指定的全部生命周期事件
// 超时为 0 时不设截止时间，只受 ctx 约束
func (p *chromedpPage) Goto(ctx context.Context, url string, opts types.GotoOptions) error {
	timeout := max(opts.Timeout, 0)
	ch, stop := p.watchLifecycle()
	defer stop()

	err := p.run(ctx, timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		frameID, loaderID, errorText, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("%s at %s", errorText, url)
		}
		if loaderID == "" {
			return nil
		}
		return waitLifecycle(ctx, ch, frameID, loaderID, pendingNames(opts.WaitUntil))
	}))
	return timeoutError(err, "Navigation", timeout)
}

// WaitForNavigation 等待主框架的下一次文档加载
func (p *chromedpPage) WaitForNavigation(ctx context.Context, opts types.GotoOptions) error {
	timeout := max(opts.Timeout, 0)
	ch, stop := p.watchLifecycle()
	defer stop()

	mainFrame := cdp.FrameID(p.id)
	err := p.run(ctx, timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		for {
			select {
			case ev := <-ch:
				if ev.FrameID == mainFrame && ev.Name == "init" {
					return waitLifecycle(ctx, ch, mainFrame, ev.LoaderID, pendingNames(opts.WaitUntil))
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}))
	return timeoutError(err, "Navigation", timeout)
}

func (p *chromedpPage) WaitForSelector(ctx context.Context, selector string, opts types.SelectorOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	action := chromedp.WaitReady(selector, chromedp.ByQuery)
	if opts.Visible {
		action = chromedp.WaitVisible(selector, chromedp.ByQuery)
	}
	err := p.run(ctx, timeout, action)
	return timeoutError(err, fmt.Sprintf("Waiting for selector `%s`", selector), timeout)
}

func (p *chromedpPage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, defaultActionTimeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *chromedpPage) Type(ctx context.Context, selector, text string) error {
	return p.run(ctx, defaultActionTimeout, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

// Content 返回整个文档的 outerHTML
func (p *chromedpPage) Content(ctx context.Context) (string, error) {
	var content string
	err := p.run(ctx, defaultActionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		content, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	return content, err
}

func (p *chromedpPage) Title(ctx context.Context) (string, error) {
	var title string
	err := p.run(ctx, defaultActionTimeout, chromedp.Title(&title))
	return title, err
}

// Evaluate 调用 JS 函数源码 fn；结果经 JSON 包装，undefined 视为 null
func (p *chromedpPage) Evaluate(ctx context.Context, fn string, out any, args ...any) error {
	encoded := make([]string, len(args))
	for i, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode argument %d: %w", i, err)
		}
		encoded[i] = string(data)
	}
	expr := fmt.Sprintf(
		"(async () => { const r = await (%s)(%s); return JSON.stringify({v: r === undefined ? null : r}); })()",
		fn, strings.Join(encoded, ", "))

	var raw string
	err := p.run(ctx, defaultActionTimeout, chromedp.Evaluate(expr, &raw,
		func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
			return ep.WithAwaitPromise(true)
		}))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	var env struct {
		V json.RawMessage `json:"v"`
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return json.Unmarshal(env.V, out)
}

func (p *chromedpPage) Cookies(ctx context.Context, urls ...string) ([]types.Cookie, error) {
	var cookies []*network.Cookie
	err := p.run(ctx, defaultActionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		params := network.GetCookies()
		if len(urls) > 0 {
			params = params.WithURLs(urls)
		}
		var err error
		cookies, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	out := make([]types.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, types.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: types.SameSite(c.SameSite),
		})
	}
	return out, nil
}

func (p *chromedpPage) SetCookie(ctx context.Context, cookies ...types.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	current := p.URL()
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		cp := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: network.CookieSameSite(c.SameSite),
		}
		if c.Domain == "" {
			cp.URL = current
		}
		if c.Expires > 0 {
			sec := int64(c.Expires)
			nsec := int64((c.Expires - float64(sec)) * 1e9)
			exp := cdp.TimeSinceEpoch(time.Unix(sec, nsec))
			cp.Expires = &exp
		}
		params = append(params, cp)
	}
	return p.run(ctx, defaultActionTimeout, network.SetCookies(params))
}

func (p *chromedpPage) SetUserAgent(ctx context.Context, userAgent string) error {
	return p.run(ctx, defaultActionTimeout, emulation.SetUserAgentOverride(userAgent))
}

// SetRequestInterception 开关请求拦截；有代理凭据时 Fetch 始终保持开启
func (p *chromedpPage) SetRequestInterception(ctx context.Context, enabled bool) error {
	p.mu.Lock()
	p.intercepting = enabled
	wantFetch := enabled || p.auth != nil
	changed := wantFetch != p.fetchEnabled
	p.fetchEnabled = wantFetch
	p.mu.Unlock()

	if !changed {
		return nil
	}
	if wantFetch {
		return p.run(ctx, defaultActionTimeout, p.fetchEnable())
	}
	return p.run(ctx, defaultActionTimeout, fetch.Disable())
}

func (p *chromedpPage) OnRequest(h types.RequestHandler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.onRequest[id] = h
	return func() {
		p.mu.Lock()
		delete(p.onRequest, id)
		p.mu.Unlock()
	}
}

func (p *chromedpPage) OnError(h func(err error)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.onError[id] = h
	return func() {
		p.mu.Lock()
		delete(p.onError, id)
		p.mu.Unlock()
	}
}

func (p *chromedpPage) OnLoad(h func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.onLoad[id] = h
	return func() {
		p.mu.Lock()
		delete(p.onLoad, id)
		p.mu.Unlock()
	}
}

// Close 关闭标签页
func (p *chromedpPage) Close(ctx context.Context) error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// chromedpRequest 实现 types.Request，对应一次 Fetch.requestPaused
type chromedpRequest struct {
	page    *chromedpPage
	ev      *fetch.EventRequestPaused
	mu      sync.Mutex
	handled bool
}

func (r *chromedpRequest) URL() string    { return r.ev.Request.URL }
func (r *chromedpRequest) Method() string { return r.ev.Request.Method }

func (r *chromedpRequest) Headers() map[string]string {
	out := make(map[string]string, len(r.ev.Request.Headers))
	for k, v := range r.ev.Request.Headers {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func (r *chromedpRequest) claim() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handled {
		return errors.New("request is already handled")
	}
	r.handled = true
	return nil
}

func (r *chromedpRequest) isHandled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handled
}

func (r *chromedpRequest) Continue(headers map[string]string) error {
	if err := r.claim(); err != nil {
		return err
	}
	params := fetch.ContinueRequest(r.ev.RequestID)
	if headers != nil {
		names := make([]string, 0, len(headers))
		for k := range headers {
			names = append(names, k)
		}
		sort.Strings(names)
		entries := make([]*fetch.HeaderEntry, 0, len(names))
		for _, k := range names {
			entries = append(entries, &fetch.HeaderEntry{Name: k, Value: headers[k]})
		}
		params = params.WithHeaders(entries)
	}
	return params.Do(r.page.executor())
}

func (r *chromedpRequest) Abort() error {
	if err := r.claim(); err != nil {
		return err
	}
	return fetch.FailRequest(r.ev.RequestID, network.ErrorReasonAborted).Do(r.page.executor())
}
