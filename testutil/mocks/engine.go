// MockLauncher / MockBrowser / MockPage 是浏览器引擎契约的内存模拟实现。
//
// 支持错误注入、调用记录与事件触发，供 browser、navigation、session、
// captcha 等包的单元测试使用，无需启动真实的 Chromium。
package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/BaSui01/browserflow/types"
)

// AssignJSON 通过 JSON 往返把 v 写入 out，模拟引擎对 Evaluate 结果的解码。
func AssignJSON(out any, v any) error {
	if out == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// --- MockLauncher ---

// MockLauncher 是 types.Launcher 的模拟实现
type MockLauncher struct {
	mu       sync.Mutex
	launches []types.LaunchOptions
	browsers []*MockBrowser
	err      error
	gate     chan struct{}
	count    atomic.Int32
}

// NewMockLauncher 创建新的 MockLauncher
func NewMockLauncher() *MockLauncher {
	return &MockLauncher{}
}

// WithError 让后续所有 Launch 调用失败
func (l *MockLauncher) WithError(err error) *MockLauncher {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	return l
}

// WithGate 让 Launch 阻塞直到 gate 被关闭，用于并发去重测试
func (l *MockLauncher) WithGate(gate chan struct{}) *MockLauncher {
	l.mu.Lock()
	l.gate = gate
	l.mu.Unlock()
	return l
}

// Launch 实现 types.Launcher
func (l *MockLauncher) Launch(ctx context.Context, opts types.LaunchOptions) (types.Browser, error) {
	l.count.Add(1)

	l.mu.Lock()
	gate := l.gate
	err := l.err
	l.launches = append(l.launches, opts.Clone())
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	b := NewMockBrowser()
	l.mu.Lock()
	l.browsers = append(l.browsers, b)
	l.mu.Unlock()
	return b, nil
}

// LaunchCount 返回 Launch 被调用的次数
func (l *MockLauncher) LaunchCount() int {
	return int(l.count.Load())
}

// Launches 返回每次调用收到的启动参数副本
func (l *MockLauncher) Launches() []types.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.LaunchOptions(nil), l.launches...)
}

// Browsers 返回已创建的浏览器
func (l *MockLauncher) Browsers() []*MockBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*MockBrowser(nil), l.browsers...)
}

// --- MockBrowser ---

// MockBrowser 是 types.Browser 的模拟实现
type MockBrowser struct {
	mu           sync.Mutex
	pages        []*MockPage
	newPageErr   error
	closeErr     error
	closeCalls   int
	disconnected chan struct{}
	once         sync.Once
	nextPage     int
}

// NewMockBrowser 创建新的 MockBrowser
func NewMockBrowser() *MockBrowser {
	return &MockBrowser{disconnected: make(chan struct{})}
}

// WithNewPageError 让 NewPage 返回 err
func (b *MockBrowser) WithNewPageError(err error) *MockBrowser {
	b.mu.Lock()
	b.newPageErr = err
	b.mu.Unlock()
	return b
}

// WithCloseError 让 Close 返回 err（浏览器仍会断开）
func (b *MockBrowser) WithCloseError(err error) *MockBrowser {
	b.mu.Lock()
	b.closeErr = err
	b.mu.Unlock()
	return b
}

// NewPage 实现 types.Browser
func (b *MockBrowser) NewPage(ctx context.Context) (types.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.newPageErr != nil {
		return nil, b.newPageErr
	}
	b.nextPage++
	p := NewMockPage(fmt.Sprintf("page-%d", b.nextPage))
	b.pages = append(b.pages, p)
	return p, nil
}

// Close 实现 types.Browser
func (b *MockBrowser) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closeCalls++
	err := b.closeErr
	b.mu.Unlock()
	b.Disconnect()
	return err
}

// Disconnect 模拟浏览器进程意外退出
func (b *MockBrowser) Disconnect() {
	b.once.Do(func() { close(b.disconnected) })
}

// Disconnected 实现 types.Browser
func (b *MockBrowser) Disconnected() <-chan struct{} {
	return b.disconnected
}

// Pages 返回已创建的页面
func (b *MockBrowser) Pages() []*MockPage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*MockPage(nil), b.pages...)
}

// CloseCalls 返回 Close 调用次数
func (b *MockBrowser) CloseCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeCalls
}

// --- MockRequest ---

// MockRequest 是 types.Request 的模拟实现
type MockRequest struct {
	mu        sync.Mutex
	url       string
	method    string
	headers   map[string]string
	continued map[string]string
	handled   bool
	aborted   bool
}

// newMockRequest 创建新的 MockRequest
func newMockRequest(url string, headers map[string]string) *MockRequest {
	return &MockRequest{url: url, method: "GET", headers: maps.Clone(headers)}
}

func (r *MockRequest) URL() string                { return r.url }
func (r *MockRequest) Method() string             { return r.method }
func (r *MockRequest) Headers() map[string]string { return maps.Clone(r.headers) }

// Continue 实现 types.Request；重复处理返回错误，与真实引擎一致
func (r *MockRequest) Continue(headers map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handled {
		return fmt.Errorf("request is already handled")
	}
	r.handled = true
	r.continued = maps.Clone(headers)
	return nil
}

// Abort 实现 types.Request
func (r *MockRequest) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handled {
		return fmt.Errorf("request is already handled")
	}
	r.handled = true
	r.aborted = true
	return nil
}

// ContinuedHeaders 返回 Continue 时提交的请求头
func (r *MockRequest) ContinuedHeaders() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.continued)
}

// Handled 报告请求是否已被 Continue 或 Abort
func (r *MockRequest) Handled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handled
}

// --- MockPage ---

// EvaluateFunc 自定义 Evaluate 行为
type EvaluateFunc func(fn string, out any, args ...any) error

// MockPage 是 types.Page 的模拟实现
type MockPage struct {
	mu sync.Mutex

	id      string
	url     string
	content string
	title   string

	// 错误注入
	gotoErrs    []error
	gotoFunc    func(ctx context.Context, url string, opts types.GotoOptions) error
	selectorErr error
	clickErr    error
	closeErr    error
	waitNavErr  error
	evaluate    EvaluateFunc

	// 状态
	cookies       []types.Cookie
	userAgent     string
	intercepting  bool
	interceptLog  []bool
	closed        bool
	requestHeader map[string]string

	// 调用记录
	gotoCalls  []string
	gotoOpts   []types.GotoOptions
	clicks     []string
	typed      []string
	requests   []*MockRequest
	closeCalls int

	// 事件处理器
	nextHandler int
	onRequest   map[int]types.RequestHandler
	onError     map[int]func(error)
	onLoad      map[int]func()
}

// NewMockPage 创建新的 MockPage
func NewMockPage(id string) *MockPage {
	return &MockPage{
		id:            id,
		url:           "about:blank",
		content:       "<html><head></head><body></body></html>",
		userAgent:     "Mozilla/5.0 (MockBrowser)",
		requestHeader: map[string]string{"Accept": "text/html"},
		onRequest:     make(map[int]types.RequestHandler),
		onError:       make(map[int]func(error)),
		onLoad:        make(map[int]func()),
	}
}

// --- Builder 方法 ---

// WithContent 设置 Content 返回的 HTML
func (p *MockPage) WithContent(html string) *MockPage {
	p.mu.Lock()
	p.content = html
	p.mu.Unlock()
	return p
}

// WithTitle 设置页面标题
func (p *MockPage) WithTitle(title string) *MockPage {
	p.mu.Lock()
	p.title = title
	p.mu.Unlock()
	return p
}

// WithGotoErrors 按顺序为每次 Goto 注入结果，nil 表示成功；用尽后 Goto 成功
func (p *MockPage) WithGotoErrors(errs ...error) *MockPage {
	p.mu.Lock()
	p.gotoErrs = append(p.gotoErrs, errs...)
	p.mu.Unlock()
	return p
}

// WithGotoFunc 完全接管 Goto 行为
func (p *MockPage) WithGotoFunc(fn func(ctx context.Context, url string, opts types.GotoOptions) error) *MockPage {
	p.mu.Lock()
	p.gotoFunc = fn
	p.mu.Unlock()
	return p
}

// WithEvaluate 自定义 Evaluate
func (p *MockPage) WithEvaluate(fn EvaluateFunc) *MockPage {
	p.mu.Lock()
	p.evaluate = fn
	p.mu.Unlock()
	return p
}

// WithCookies 预置 Cookie
func (p *MockPage) WithCookies(cookies ...types.Cookie) *MockPage {
	p.mu.Lock()
	p.cookies = append(p.cookies, cookies...)
	p.mu.Unlock()
	return p
}

// WithSelectorError 让 WaitForSelector 失败
func (p *MockPage) WithSelectorError(err error) *MockPage {
	p.mu.Lock()
	p.selectorErr = err
	p.mu.Unlock()
	return p
}

// WithClickError 让 Click 与 Type 失败
func (p *MockPage) WithClickError(err error) *MockPage {
	p.mu.Lock()
	p.clickErr = err
	p.mu.Unlock()
	return p
}

// WithCloseError 让 Close 返回 err
func (p *MockPage) WithCloseError(err error) *MockPage {
	p.mu.Lock()
	p.closeErr = err
	p.mu.Unlock()
	return p
}

// WithWaitForNavigationError 让 WaitForNavigation 失败
func (p *MockPage) WithWaitForNavigationError(err error) *MockPage {
	p.mu.Lock()
	p.waitNavErr = err
	p.mu.Unlock()
	return p
}

// WithRequestHeaders 设置 Goto 时模拟请求自带的请求头
func (p *MockPage) WithRequestHeaders(h map[string]string) *MockPage {
	p.mu.Lock()
	p.requestHeader = maps.Clone(h)
	p.mu.Unlock()
	return p
}

// --- types.Page 实现 ---

func (p *MockPage) ID() string { return p.id }

func (p *MockPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Goto 记录调用；拦截开启时先把模拟请求交给 OnRequest 处理器，成功后触发 load
func (p *MockPage) Goto(ctx context.Context, url string, opts types.GotoOptions) error {
	p.mu.Lock()
	p.gotoCalls = append(p.gotoCalls, url)
	p.gotoOpts = append(p.gotoOpts, opts)
	fn := p.gotoFunc
	var err error
	if len(p.gotoErrs) > 0 {
		err = p.gotoErrs[0]
		p.gotoErrs = p.gotoErrs[1:]
	}
	var req *MockRequest
	var handlers []types.RequestHandler
	if p.intercepting {
		req = newMockRequest(url, p.requestHeader)
		p.requests = append(p.requests, req)
		for _, h := range p.onRequest {
			handlers = append(handlers, h)
		}
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(req)
	}

	if fn != nil {
		err = fn(ctx, url, opts)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	p.EmitLoad()
	return nil
}

func (p *MockPage) WaitForNavigation(ctx context.Context, opts types.GotoOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitNavErr
}

func (p *MockPage) WaitForSelector(ctx context.Context, selector string, opts types.SelectorOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selectorErr
}

func (p *MockPage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clickErr != nil {
		return p.clickErr
	}
	p.clicks = append(p.clicks, selector)
	return nil
}

func (p *MockPage) Type(ctx context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clickErr != nil {
		return p.clickErr
	}
	p.typed = append(p.typed, selector+"="+text)
	return nil
}

func (p *MockPage) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", fmt.Errorf("page %s is closed", p.id)
	}
	return p.content, nil
}

func (p *MockPage) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, nil
}

// Evaluate 默认只支持 navigator.userAgent 查询，其余返回 nil
func (p *MockPage) Evaluate(ctx context.Context, fn string, out any, args ...any) error {
	p.mu.Lock()
	eval := p.evaluate
	ua := p.userAgent
	p.mu.Unlock()

	if eval != nil {
		return eval(fn, out, args...)
	}
	if fn == "() => navigator.userAgent" {
		return AssignJSON(out, ua)
	}
	return nil
}

func (p *MockPage) Cookies(ctx context.Context, urls ...string) ([]types.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Cookie(nil), p.cookies...), nil
}

// SetCookie 按 name+domain+path 覆盖已有 Cookie
func (p *MockPage) SetCookie(ctx context.Context, cookies ...types.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range cookies {
		replaced := false
		for i, existing := range p.cookies {
			if existing.Name == c.Name && existing.Domain == c.Domain && existing.Path == c.Path {
				p.cookies[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			p.cookies = append(p.cookies, c)
		}
	}
	return nil
}

func (p *MockPage) SetUserAgent(ctx context.Context, userAgent string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userAgent = userAgent
	return nil
}

func (p *MockPage) SetRequestInterception(ctx context.Context, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intercepting = enabled
	p.interceptLog = append(p.interceptLog, enabled)
	return nil
}

func (p *MockPage) OnRequest(h types.RequestHandler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextHandler
	p.nextHandler++
	p.onRequest[id] = h
	return func() {
		p.mu.Lock()
		delete(p.onRequest, id)
		p.mu.Unlock()
	}
}

func (p *MockPage) OnError(h func(err error)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextHandler
	p.nextHandler++
	p.onError[id] = h
	return func() {
		p.mu.Lock()
		delete(p.onError, id)
		p.mu.Unlock()
	}
}

func (p *MockPage) OnLoad(h func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextHandler
	p.nextHandler++
	p.onLoad[id] = h
	return func() {
		p.mu.Lock()
		delete(p.onLoad, id)
		p.mu.Unlock()
	}
}

func (p *MockPage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	p.closed = true
	return p.closeErr
}

// --- 事件触发 ---

// EmitError 模拟页面运行时错误
func (p *MockPage) EmitError(err error) {
	p.mu.Lock()
	handlers := make([]func(error), 0, len(p.onError))
	for _, h := range p.onError {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
}

// EmitLoad 模拟 load 事件
func (p *MockPage) EmitLoad() {
	p.mu.Lock()
	handlers := make([]func(), 0, len(p.onLoad))
	for _, h := range p.onLoad {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

// --- 查询方法 ---

// GotoCalls 返回 Goto 收到的 URL
func (p *MockPage) GotoCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.gotoCalls...)
}

// GotoOptions 返回每次 Goto 收到的参数
func (p *MockPage) GotoOptions() []types.GotoOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.GotoOptions(nil), p.gotoOpts...)
}

// InterceptionLog 返回 SetRequestInterception 的调用序列
func (p *MockPage) InterceptionLog() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.interceptLog...)
}

// Requests 返回拦截期间产生的模拟请求
func (p *MockPage) Requests() []*MockRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*MockRequest(nil), p.requests...)
}

// HandlerCount 返回当前注册的请求/错误/load 处理器数量
func (p *MockPage) HandlerCount() (request, errs, load int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.onRequest), len(p.onError), len(p.onLoad)
}

// UserAgent 返回当前 UA
func (p *MockPage) UserAgent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userAgent
}

// Clicks 返回 Click 过的选择器
func (p *MockPage) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Typed 返回 Type 调用记录，格式为 selector=text
func (p *MockPage) Typed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.typed...)
}

// CloseCalls 返回 Close 调用次数
func (p *MockPage) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

// Closed 报告页面是否已关闭
func (p *MockPage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

var (
	_ types.Launcher = (*MockLauncher)(nil)
	_ types.Browser  = (*MockBrowser)(nil)
	_ types.Page     = (*MockPage)(nil)
	_ types.Request  = (*MockRequest)(nil)
)
