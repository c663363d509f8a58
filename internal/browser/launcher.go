// internal/browser/launcher.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/wanderlust-sh/wander/internal/config"
)

// Launcher owns the shared Chrome allocator. Every session gets its own tab
// (a fresh chromedp context) off the same browser process.
type Launcher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu    sync.Mutex
	pages []*Page
}

// NewLauncher prepares the allocator. The browser process itself starts
// lazily with the first page.
func NewLauncher(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Launcher {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("mute-audio", true),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	return &Launcher{
		cfg:         cfg,
		logger:      logger.Named("browser"),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
	}
}

// NewPage opens a fresh tab and waits for it to become responsive.
func (l *Launcher) NewPage() (*Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(l.allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			l.logger.Sugar().Debugf(format, args...)
		}))

	// Forces the tab (and on first call, the browser process) to start.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}

	p := newPage(tabCtx, tabCancel, l.logger)

	// A crashed or detached renderer invalidates the tab; cancelling its
	// context flips IsOpen so the controller can bail out.
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev.(type) {
		case *inspector.EventTargetCrashed, *inspector.EventDetached:
			p.logger.Warn("Browser tab lost its renderer")
			tabCancel()
		}
	})
	l.mu.Lock()
	l.pages = append(l.pages, p)
	l.mu.Unlock()

	l.logger.Info("Browser tab opened", zap.String("page_id", p.ID()))
	return p, nil
}

// Close shuts every page and then the browser process.
func (l *Launcher) Close() {
	l.mu.Lock()
	pages := l.pages
	l.pages = nil
	l.mu.Unlock()

	for _, p := range pages {
		p.Close()
	}
	l.allocCancel()
	l.logger.Info("Browser shut down")
}
