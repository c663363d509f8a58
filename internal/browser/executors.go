// internal/browser/executors.go
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/wanderlust-sh/wander/internal/agent"
	"github.com/wanderlust-sh/wander/internal/config"
)

// searchBoxSelectors is tried in order when a search action runs.
var searchBoxSelectors = []string{
	`input[type="search"]`,
	`input[name="q"]`,
	`textarea[name="q"]`,
	`input[type="text"]`,
}

// clickScript finds the first visible element whose text matches the target
// exactly, scrolls it into view and clicks it. Returns true on success.
const clickScript = `((target) => {
	const norm = (t) => (t || '').replace(/\s+/g, ' ').trim().slice(0, 100);
	for (const el of document.querySelectorAll('a[href], button, [role="button"], input[type="submit"]')) {
		const rect = el.getBoundingClientRect();
		if (rect.width < 2 || rect.height < 2) continue;
		if (norm(el.innerText || el.value || el.getAttribute('aria-label')) !== target) continue;
		el.scrollIntoView({ block: 'center' });
		el.click();
		return true;
	}
	return false;
})(%q)`

type handlerFunc func(ctx context.Context, page *Page, action agent.ConcreteAction) error

// Executor performs concrete actions against a page with human-ish pacing:
// per-character typing delays, scroll pauses, a settle wait after every
// navigation-like action.
type Executor struct {
	cfg      config.BrowserConfig
	logger   *zap.Logger
	handlers map[agent.ActionKind]handlerFunc
	rng      *rand.Rand
}

var _ agent.Executor = (*Executor)(nil)

// NewExecutor builds the action dispatch table.
func NewExecutor(cfg config.BrowserConfig, logger *zap.Logger) *Executor {
	e := &Executor{
		cfg:    cfg,
		logger: logger.Named("executor"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	e.handlers = map[agent.ActionKind]handlerFunc{
		agent.ActionNavigate:    e.navigate,
		agent.ActionSearch:      e.search,
		agent.ActionClickResult: e.click,
		agent.ActionClickLink:   e.click,
		agent.ActionBrowse:      e.browse,
		agent.ActionWatch:       e.watch,
	}
	return e
}

// Execute dispatches one concrete action.
func (e *Executor) Execute(ctx context.Context, page agent.Page, action agent.ConcreteAction) error {
	bp, ok := page.(*Page)
	if !ok {
		return fmt.Errorf("executor requires a browser page, got %T", page)
	}
	handler, ok := e.handlers[action.Kind]
	if !ok {
		return fmt.Errorf("no handler for action kind %q", action.Kind)
	}

	e.logger.Info("Executing action",
		zap.String("kind", string(action.Kind)),
		zap.String("target", action.Target()))
	start := time.Now()
	err := handler(ctx, bp, action)
	e.logger.Debug("Action finished",
		zap.String("kind", string(action.Kind)),
		zap.Duration("took", time.Since(start)),
		zap.Error(err))
	return err
}

func (e *Executor) navigate(ctx context.Context, page *Page, action agent.ConcreteAction) error {
	url := action.URL
	if url == "" {
		return fmt.Errorf("navigate action carries no URL")
	}
	if !strings.Contains(url, "://") {
		url = "https://" + url
	}

	navCtx, cancel := context.WithTimeout(ctx, e.navigationTimeout())
	defer cancel()

	err := page.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return e.pause(ctx, 800, 2000)
}

// search types the keyword into the first matching search box and submits
// with Enter. Typing is paced per character.
func (e *Executor) search(ctx context.Context, page *Page, action agent.ConcreteAction) error {
	if action.Keyword == "" {
		return fmt.Errorf("search action carries no keyword")
	}

	sel, err := e.findSearchBox(ctx, page)
	if err != nil {
		return err
	}

	if err := page.Run(ctx,
		chromedp.Click(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("could not focus search box: %w", err)
	}

	for _, r := range action.Keyword {
		if err := page.Run(ctx, chromedp.SendKeys(sel, string(r), chromedp.ByQuery)); err != nil {
			return fmt.Errorf("typing failed: %w", err)
		}
		if err := e.pause(ctx, 40, 140); err != nil {
			return err
		}
	}

	if err := page.Run(ctx,
		chromedp.SendKeys(sel, "\r", chromedp.ByQuery),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("search submit failed: %w", err)
	}
	return e.pause(ctx, 1000, 2500)
}

func (e *Executor) findSearchBox(ctx context.Context, page *Page) (string, error) {
	for _, sel := range searchBoxSelectors {
		var visible bool
		script := fmt.Sprintf(`(() => {
			const el = document.querySelector(%q);
			if (!el) return false;
			const r = el.getBoundingClientRect();
			return r.width > 2 && r.height > 2;
		})()`, sel)
		if err := page.Run(ctx, chromedp.Evaluate(script, &visible)); err != nil {
			return "", fmt.Errorf("search box probe failed: %w", err)
		}
		if visible {
			return sel, nil
		}
	}
	return "", fmt.Errorf("no visible search box on page")
}

// click resolves the target by its exact scanned text. A miss is a normal
// recoverable failure; the controller remembers the target as failed.
func (e *Executor) click(ctx context.Context, page *Page, action agent.ConcreteAction) error {
	if action.TargetText == "" {
		return fmt.Errorf("click action carries no target text")
	}

	var clicked bool
	script := fmt.Sprintf(clickScript, action.TargetText)
	if err := page.Run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return fmt.Errorf("click evaluation failed: %w", err)
	}
	if !clicked {
		return fmt.Errorf("element with text %q not found or not visible", action.TargetText)
	}

	// Give a possible navigation time to start before the next scan.
	if err := e.pause(ctx, 1200, 2800); err != nil {
		return err
	}
	return page.Run(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
}

// browse performs scroll-and-read passes over the current page.
func (e *Executor) browse(ctx context.Context, page *Page, action agent.ConcreteAction) error {
	iterations := action.Iterations
	if iterations <= 0 {
		iterations = 1
	}
	for i := 0; i < iterations; i++ {
		delta := 400 + e.rng.Intn(500)
		script := fmt.Sprintf(`window.scrollBy({ top: %d, behavior: 'smooth' })`, delta)
		if err := page.Run(ctx, chromedp.Evaluate(script, nil)); err != nil {
			return fmt.Errorf("scroll failed: %w", err)
		}
		if err := e.pause(ctx, 1500, 4000); err != nil {
			return err
		}
	}
	return nil
}

// watch stays on the current page for the action's duration, nudging any
// paused video to play and checking tab liveness in short intervals.
func (e *Executor) watch(ctx context.Context, page *Page, action agent.ConcreteAction) error {
	if action.Duration <= 0 {
		return fmt.Errorf("watch action carries no duration")
	}

	// Best effort; autoplay usually already took care of it.
	_ = page.Run(ctx, chromedp.Evaluate(
		`(() => { const v = document.querySelector('video'); if (v && v.paused) v.play(); })()`, nil))

	deadline := time.Now().Add(action.Duration)
	for time.Now().Before(deadline) {
		if !page.IsOpen() {
			return agent.ErrBrowserGone
		}
		step := 5 * time.Second
		if remaining := time.Until(deadline); remaining < step {
			step = remaining
		}
		t := time.NewTimer(step)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func (e *Executor) navigationTimeout() time.Duration {
	if e.cfg.NavigationTimeout > 0 {
		return e.cfg.NavigationTimeout
	}
	return 90 * time.Second
}

// pause sleeps for a random duration between min and max milliseconds.
func (e *Executor) pause(ctx context.Context, minMs, maxMs int) error {
	d := time.Duration(minMs+e.rng.Intn(maxMs-minMs)) * time.Millisecond
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
