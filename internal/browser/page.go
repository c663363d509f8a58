// internal/browser/page.go
package browser

import (
	"context"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wanderlust-sh/wander/internal/agent"
)

// Page wraps one browser tab. It is the concrete implementation of the
// controller's page handle.
type Page struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	closeOnce sync.Once
}

var _ agent.Page = (*Page)(nil)

func newPage(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger) *Page {
	id := uuid.NewString()
	return &Page{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(zap.String("page_id", id)),
	}
}

// ID returns the page identifier used in logs.
func (p *Page) ID() string {
	return p.id
}

// CurrentURL reads the tab's live location.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := p.Run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// IsOpen reports whether the tab is still usable.
func (p *Page) IsOpen() bool {
	return p.ctx.Err() == nil
}

// Run executes chromedp actions against this tab. The tab context carries
// the CDP connection; the caller context only contributes its deadline and
// cancellation.
func (p *Page) Run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.ctx.Err(); err != nil {
		return agent.ErrBrowserGone
	}

	runCtx := p.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(runCtx, actions...)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the tab down. Safe to call more than once.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.logger.Debug("Browser tab closed")
	})
}
