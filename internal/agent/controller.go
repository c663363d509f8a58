// internal/agent/controller.go
package agent

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wanderlust-sh/wander/api/schemas"
	"github.com/wanderlust-sh/wander/internal/config"
)

// uuidNewString is a variable to allow mocking in tests.
var uuidNewString = uuid.NewString

// Controller runs one browsing session: it owns the session state machine
// and the plan / ground / execute loop. All methods must be called from a
// single goroutine; concurrency happens across controllers, never inside one.
type Controller struct {
	cfg      config.SessionConfig
	lookback int

	page     Page
	scanner  Scanner
	executor Executor
	planner  PlanRequester
	resolver *Resolver
	logger   *zap.Logger

	state   SessionState
	session *Session

	// Mockable for tests.
	sleep func(ctx context.Context, d time.Duration)
	randn func(n int) int
}

// NewController wires a controller over a live page. lookback is how many
// trailing history entries are handed to the plan requester.
func NewController(cfg config.SessionConfig, lookback int, page Page, scanner Scanner, executor Executor, planner PlanRequester, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:      cfg,
		lookback: lookback,
		page:     page,
		scanner:  scanner,
		executor: executor,
		planner:  planner,
		resolver: NewResolver(cfg, logger),
		logger:   logger.Named("controller"),
		state:    StateNotStarted,
		sleep:    sleepCtx,
		randn:    rand.Intn,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() SessionState {
	return c.state
}

// Start navigates to the initial URL and arms the session. queued actions
// are consumed before any backend planning happens. Start fails if the
// session is not in the NOT_STARTED state or the initial navigation fails.
func (c *Controller) Start(ctx context.Context, initialURL, goal string, queued []AbstractAction, persona *schemas.Persona) error {
	if c.state != StateNotStarted {
		return fmt.Errorf("cannot start session in state %s", c.state)
	}
	if initialURL == "" {
		return fmt.Errorf("initial URL must not be empty")
	}

	if err := c.executor.Execute(ctx, c.page, ConcreteAction{Kind: ActionNavigate, URL: initialURL}); err != nil {
		return fmt.Errorf("initial navigation to %s failed: %w", initialURL, err)
	}

	c.session = &Session{
		ID:          uuidNewString(),
		Goal:        goal,
		MinDuration: c.cfg.MinDuration,
		StartedAt:   time.Now(),
		Context:     DerivePageContext(initialURL),
		TaskQueue:   append([]AbstractAction(nil), queued...),
		Failed:      make(FailedTargets),
		Persona:     persona,
	}
	c.state = StateRunning

	c.logger.Info("Session started",
		zap.String("session_id", c.session.ID),
		zap.String("goal", goal),
		zap.String("url", initialURL),
		zap.Int("queued_tasks", len(queued)),
		zap.Duration("min_duration", c.cfg.MinDuration))
	return nil
}

// Run drives the session loop until the minimum duration is reached, the
// context is cancelled, or the browser dies. Recoverable step failures never
// end the loop; only fatal browser errors and context cancellation do.
func (c *Controller) Run(ctx context.Context) error {
	if c.state != StateRunning {
		return fmt.Errorf("cannot run session in state %s", c.state)
	}

	for {
		if err := ctx.Err(); err != nil {
			c.state = StateEnding
			return err
		}
		if !c.page.IsOpen() {
			c.state = StateEnding
			return ErrBrowserGone
		}
		if c.session.HasReachedMinimum() {
			c.state = StateEnding
			c.logger.Info("Minimum session duration reached, winding down",
				zap.String("session_id", c.session.ID),
				zap.Duration("elapsed", c.session.Elapsed()))
			return nil
		}

		if c.isStuck() {
			c.logger.Warn("Session stuck on same URL, recovering",
				zap.String("url", c.session.Context.URL),
				zap.Int("window", c.cfg.StuckWindow))
			if err := c.recover(ctx); err != nil {
				return err
			}
			continue
		}

		snap, err := c.scanner.Scan(ctx, c.page)
		if err != nil {
			if IsFatal(err) {
				c.state = StateEnding
				return fmt.Errorf("page scan: %w", ErrBrowserGone)
			}
			c.logger.Warn("Page scan failed, treating page as blocked", zap.Error(err))
			snap = schemas.BlockedSnapshot(c.session.Context.URL)
		}
		if snap.Blocked() {
			c.logger.Warn("Page is blocked or broken, recovering",
				zap.String("url", snap.URL),
				zap.Bool("error_page", snap.ErrorPage),
				zap.Bool("bot_challenge", snap.BotChallenge))
			if err := c.recover(ctx); err != nil {
				return err
			}
			continue
		}

		plan := c.nextPlan(ctx, snap)
		if err := c.executePlan(ctx, plan, snap); err != nil {
			return err
		}
	}
}

// End closes out the session and returns its final status. It is safe to
// call from any state; calling it on a never-started controller returns a
// zero status. The controller is reusable for a fresh session afterwards.
func (c *Controller) End() SessionStatus {
	status := SessionStatus{State: StateEnded}
	if c.session != nil {
		status.ID = c.session.ID
		status.Goal = c.session.Goal
		status.Duration = c.session.Elapsed()
		status.ActionCount = len(c.session.History)
		for _, entry := range c.session.History {
			if entry.Status == statusError {
				status.FailedCount++
			}
		}
		status.FinalURL = c.session.Context.URL
	}
	c.logger.Info("Session ended",
		zap.String("session_id", status.ID),
		zap.Duration("duration", status.Duration),
		zap.Int("actions", status.ActionCount))

	c.state = StateNotStarted
	c.session = nil
	return status
}

// nextPlan consumes the caller-supplied task queue first, one entry per
// iteration so a failed task costs only itself; only when the queue is empty
// does the backend get asked. A backend miss falls through to the
// deterministic content heuristic, so there is always a plan.
func (c *Controller) nextPlan(ctx context.Context, snap *schemas.ContentSnapshot) []AbstractAction {
	if len(c.session.TaskQueue) > 0 {
		next := c.session.TaskQueue[0]
		c.session.TaskQueue = c.session.TaskQueue[1:]
		c.logger.Info("Executing queued task before planning",
			zap.String("kind", string(next.Kind)),
			zap.Int("remaining", len(c.session.TaskQueue)))
		return []AbstractAction{next}
	}

	plan, err := c.planner.RequestPlan(ctx, PlanRequest{
		Goal:     c.session.Goal,
		Context:  c.session.Context,
		History:  c.session.TailHistory(c.lookback),
		Snapshot: snap,
		Persona:  c.session.Persona,
	})
	if err == nil && len(plan) > 0 {
		return plan
	}

	c.logger.Info("No backend plan, using content heuristic")
	return HeuristicPlan(snap)
}

// executePlan grounds and executes a plan chain step by step. The first
// failed step aborts the rest of the chain; fatal browser errors abort the
// session. The snapshot is refreshed between steps so later groundings see
// the page the earlier steps produced.
func (c *Controller) executePlan(ctx context.Context, plan []AbstractAction, snap *schemas.ContentSnapshot) error {
	for i, abstract := range plan {
		if err := ctx.Err(); err != nil {
			c.state = StateEnding
			return err
		}

		if i > 0 {
			fresh, err := c.scanner.Scan(ctx, c.page)
			if err != nil {
				if IsFatal(err) {
					c.state = StateEnding
					return fmt.Errorf("page scan: %w", ErrBrowserGone)
				}
				c.logger.Warn("Mid-chain scan failed, abandoning rest of plan", zap.Error(err))
				return nil
			}
			if fresh.Blocked() {
				c.logger.Warn("Page blocked mid-chain, abandoning rest of plan", zap.String("url", fresh.URL))
				return nil
			}
			snap = fresh
		}

		concrete := c.resolver.Resolve(abstract, snap, c.session)
		err := c.executor.Execute(ctx, c.page, concrete)
		if err == nil {
			// Refresh first so the history entry carries the URL the
			// step produced, not the one it started from.
			c.refreshContext(ctx)
		}
		c.record(concrete, err)

		if err != nil {
			if IsFatal(err) {
				c.state = StateEnding
				return fmt.Errorf("execute %s: %w", concrete.Kind, ErrBrowserGone)
			}
			c.logger.Warn("Step failed, abandoning rest of plan",
				zap.String("kind", string(concrete.Kind)),
				zap.String("target", concrete.Target()),
				zap.Error(err))
			return nil
		}
	}
	return nil
}

// record appends a history entry for an executed step. The session context
// must already reflect the step's outcome.
func (c *Controller) record(action ConcreteAction, execErr error) {
	entry := HistoryEntry{
		Kind:      action.Kind,
		Target:    action.Target(),
		URL:       c.session.Context.URL,
		Status:    statusSuccess,
		Timestamp: time.Now(),
	}
	if execErr != nil {
		entry.Status = statusError
		entry.Error = execErr.Error()
	}
	c.session.History = append(c.session.History, entry)
}

// refreshContext re-derives the page context from the live URL and clears
// the failed-element memory when the registrable domain changed.
func (c *Controller) refreshContext(ctx context.Context) {
	rawURL, err := c.page.CurrentURL(ctx)
	if err != nil {
		c.logger.Debug("Could not read current URL", zap.Error(err))
		return
	}
	next := DerivePageContext(rawURL)
	if next.Domain != c.session.Context.Domain {
		c.logger.Debug("Domain changed, clearing failed-element memory",
			zap.String("from", c.session.Context.Domain),
			zap.String("to", next.Domain))
		c.session.Failed = make(FailedTargets)
	}
	c.session.Context = next
}

// isStuck reports whether the last StuckWindow history entries all happened
// on the same URL.
func (c *Controller) isStuck() bool {
	window := c.cfg.StuckWindow
	if window <= 0 || len(c.session.History) < window {
		return false
	}
	tail := c.session.History[len(c.session.History)-window:]
	first := tail[0].URL
	if first == "" {
		return false
	}
	for _, entry := range tail[1:] {
		if entry.URL != first {
			return false
		}
	}
	return true
}

// recover navigates to a random known-good destination, truncates the
// history to a short tail and clears the failed-element memory. A fatal
// error during recovery ends the session.
func (c *Controller) recover(ctx context.Context) error {
	target := c.cfg.RecoveryURLs[c.randn(len(c.cfg.RecoveryURLs))]

	navCtx, cancel := context.WithTimeout(ctx, c.cfg.RecoveryTimeout)
	err := c.executor.Execute(navCtx, c.page, ConcreteAction{Kind: ActionNavigate, URL: target})
	cancel()
	if err != nil {
		if IsFatal(err) {
			c.state = StateEnding
			return fmt.Errorf("recovery navigation: %w", ErrBrowserGone)
		}
		c.logger.Warn("Recovery navigation failed", zap.String("url", target), zap.Error(err))
	}

	if keep := c.cfg.RecoveryKeepHistory; len(c.session.History) > keep {
		c.session.History = append([]HistoryEntry(nil), c.session.History[len(c.session.History)-keep:]...)
	}
	c.session.Failed = make(FailedTargets)
	c.refreshContext(ctx)

	c.logger.Info("Recovered session",
		zap.String("url", c.session.Context.URL),
		zap.Int("history_kept", len(c.session.History)))

	c.sleep(ctx, c.cfg.SettleDelay)
	return nil
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
