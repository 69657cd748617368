package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/types"
)

// ChromeLauncher 基于 chromedp 的 types.Launcher 实现
type ChromeLauncher struct {
	logger *zap.Logger
}

// NewChromeLauncher 创建 chromedp 启动器
func NewChromeLauncher(logger *zap.Logger) *ChromeLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeLauncher{logger: logger.With(zap.String("component", "chromedp_launcher"))}
}

// Launch 启动 Chromium 进程。
// 浏览器生命周期独立于 ctx，ctx 只约束启动过程本身。
func (l *ChromeLauncher) Launch(ctx context.Context, opts types.LaunchOptions) (types.Browser, error) {
	flags, auth := parseArgs(opts.Args)

	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	}
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Headless)
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.ExecutablePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecutablePath))
	}
	for _, f := range flags {
		allocOpts = append(allocOpts, chromedp.Flag(f.Name, f.Value))
	}

	logger := l.logger.With(zap.String("instance_id", opts.ResolvedInstanceID()))
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Warn(fmt.Sprintf(format, args...))
		}),
	)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// 首次 Run 必须使用 browserCtx 本身，否则超时取消会连带关闭浏览器
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	select {
	case err := <-started:
		if err != nil {
			cancel()
			allocCancel()
			return nil, err
		}
	case <-time.After(timeout):
		cancel()
		allocCancel()
		return nil, fmt.Errorf("browser did not start within %s", timeout)
	case <-ctx.Done():
		cancel()
		allocCancel()
		return nil, ctx.Err()
	}

	b := &chromedpBrowser{
		ctx:          browserCtx,
		cancel:       cancel,
		allocCancel:  allocCancel,
		auth:         auth,
		logger:       logger,
		disconnected: make(chan struct{}),
	}
	go func() {
		<-browserCtx.Done()
		b.markDisconnected()
	}()

	logger.Info("chromedp browser started",
		zap.Bool("headless", opts.Headless),
		zap.Int("args", len(flags)),
		zap.Bool("proxy_auth", auth != nil))
	return b, nil
}

// chromedpBrowser 实现 types.Browser
type chromedpBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	auth        *proxyAuth
	logger      *zap.Logger

	disconnected chan struct{}
	once         sync.Once
}

func (b *chromedpBrowser) markDisconnected() {
	b.once.Do(func() { close(b.disconnected) })
}

// NewPage 在当前浏览器中打开新标签页
func (b *chromedpBrowser) NewPage(ctx context.Context) (types.Page, error) {
	if err := b.ctx.Err(); err != nil {
		return nil, fmt.Errorf("browser is closed: %w", err)
	}

	tabCtx, cancel := chromedp.NewContext(b.ctx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("create target: %w", err)
	}

	p := newChromedpPage(tabCtx, cancel, b.auth, b.logger)
	if err := p.init(ctx); err != nil {
		cancel()
		return nil, err
	}
	return p, nil
}

// Close 优雅关闭浏览器，然后释放分配器
func (b *chromedpBrowser) Close(ctx context.Context) error {
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	b.markDisconnected()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (b *chromedpBrowser) Disconnected() <-chan struct{} {
	return b.disconnected
}
