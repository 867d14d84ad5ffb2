// Package browser drives a headless Chrome through the DevTools protocol and
// implements the prober's browser contract.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/prh-dash/dash-status/internal/prober"
)

const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultWindowWidth       = 1280
	DefaultWindowHeight      = 800
)

// Config controls how Chrome is started and how long a navigation may take to settle.
type Config struct {
	// RemoteURL attaches to an already running Chrome through its DevTools
	// websocket instead of starting a local process. Exec options are ignored.
	RemoteURL         string
	ExecPath          string
	Headless          bool
	NoSandbox         bool
	NavigationTimeout time.Duration
	WindowWidth       int
	WindowHeight      int
}

// DefaultConfig returns a headless configuration that uses the Chrome found on PATH.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		NavigationTimeout: DefaultNavigationTimeout,
		WindowWidth:       DefaultWindowWidth,
		WindowHeight:      DefaultWindowHeight,
	}
}

// ChromeLauncher starts a fresh Chrome process for every Launch call.
type ChromeLauncher struct {
	cfg Config
}

var _ prober.Launcher = (*ChromeLauncher)(nil)

// NewChromeLauncher fills unset fields of cfg with defaults.
func NewChromeLauncher(cfg Config) *ChromeLauncher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = DefaultWindowWidth, DefaultWindowHeight
	}
	return &ChromeLauncher{cfg: cfg}
}

// Config returns the effective launch configuration.
func (l *ChromeLauncher) Config() Config {
	return l.cfg
}

func (l *ChromeLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.WindowSize(l.cfg.WindowWidth, l.cfg.WindowHeight),
	)
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	if l.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return opts
}

func (l *ChromeLauncher) newAllocator(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.cfg.RemoteURL != "" {
		return chromedp.NewRemoteAllocator(ctx, l.cfg.RemoteURL)
	}
	return chromedp.NewExecAllocator(ctx, l.allocatorOptions()...)
}

// Launch starts Chrome, or attaches to RemoteURL, and returns once the first
// target is attached. Cancelling ctx releases the browser.
func (l *ChromeLauncher) Launch(ctx context.Context) (prober.Browser, error) {
	allocCtx, allocCancel := l.newAllocator(ctx)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	return &chromeBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		navTimeout:  l.cfg.NavigationTimeout,
	}, nil
}

type chromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	navTimeout  time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewPage opens a tab. The tab's event loop runs on the context of its first
// chromedp.Run, so that call uses the tab context itself and ctx only cancels it.
func (b *chromeBrowser) NewPage(ctx context.Context) (prober.Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.ctx)
	p := &chromePage{ctx: tabCtx, cancel: tabCancel, navTimeout: b.navTimeout, tracker: newNavTracker()}
	chromedp.ListenTarget(tabCtx, p.tracker.handle)

	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx, network.Enable(), page.SetLifecycleEventsEnabled(true))
	stop()
	if err != nil {
		tabCancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	return p, nil
}

// Close shuts the browser down gracefully and then releases the process.
// Tabs are released along with it. Repeated calls return the first result.
func (b *chromeBrowser) Close() error {
	b.closeOnce.Do(func() {
		err := chromedp.Cancel(b.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			b.closeErr = fmt.Errorf("failed to close chrome: %w", err)
		}
		b.cancel()
		b.allocCancel()
	})
	return b.closeErr
}

type chromePage struct {
	ctx        context.Context
	cancel     context.CancelFunc
	navTimeout time.Duration
	tracker    *navTracker

	closeOnce sync.Once
	closeErr  error
}

// run executes actions on the attached tab, aborting when the caller's ctx is
// done. Cancelling the per-call context leaves the tab's event loop running.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *chromePage) SetExtraHTTPHeaders(ctx context.Context, headers map[string]string) error {
	return p.run(ctx, network.SetExtraHTTPHeaders(toNetworkHeaders(headers)))
}

// Goto navigates and waits for the networkIdle lifecycle event of that
// navigation's loader, bounded by the navigation timeout.
func (p *chromePage) Goto(ctx context.Context, url string) (prober.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.navTimeout)
	defer cancel()

	p.tracker.reset()

	var loaderID string
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, id, errorText, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("navigation failed: %s", errorText)
		}
		loaderID = string(id)
		return nil
	}))
	if err != nil {
		return prober.Response{}, wrapTimeout(err, p.navTimeout)
	}

	status, err := p.tracker.waitIdle(ctx, loaderID)
	if err != nil {
		return prober.Response{StatusCode: status}, wrapTimeout(err, p.navTimeout)
	}
	return prober.Response{StatusCode: status}, nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close closes the tab's target and waits for it. Repeated calls return the first result.
func (p *chromePage) Close() error {
	p.closeOnce.Do(func() {
		err := chromedp.Cancel(p.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			p.closeErr = fmt.Errorf("failed to close tab: %w", err)
		}
		p.cancel()
	})
	return p.closeErr
}

func wrapTimeout(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("network did not become idle within %s: %w", timeout, err)
	}
	return err
}

func toNetworkHeaders(headers map[string]string) network.Headers {
	out := make(network.Headers, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	return out
}
