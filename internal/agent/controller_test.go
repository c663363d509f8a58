// File: internal/agent/controller_test.go
package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wanderlust-sh/wander/api/schemas"
	"github.com/wanderlust-sh/wander/internal/config"
)

type controllerFixture struct {
	ctrl     *Controller
	page     *MockPage
	scanner  *MockScanner
	executor *MockExecutor
	planner  *MockPlanRequester
}

func setupController(t *testing.T, modify ...func(*config.SessionConfig)) *controllerFixture {
	t.Helper()

	cfg := config.NewDefaultConfig().Session
	cfg.MinDuration = time.Hour // Tests end the loop explicitly.
	cfg.SettleDelay = 0
	for _, m := range modify {
		m(&cfg)
	}

	f := &controllerFixture{
		page:     new(MockPage),
		scanner:  new(MockScanner),
		executor: new(MockExecutor),
		planner:  new(MockPlanRequester),
	}
	f.ctrl = NewController(cfg, 5, f.page, f.scanner, f.executor, f.planner, zaptest.NewLogger(t))
	f.ctrl.sleep = func(context.Context, time.Duration) {}
	f.ctrl.randn = func(int) int { return 0 }
	return f
}

// start drives the controller through a successful Start.
func (f *controllerFixture) start(t *testing.T) {
	t.Helper()
	f.executor.On("Execute", mock.Anything, f.page, mock.MatchedBy(func(a ConcreteAction) bool {
		return a.Kind == ActionNavigate && a.URL == "https://example.com"
	})).Return(nil).Once()
	require.NoError(t, f.ctrl.Start(context.Background(), "https://example.com", "idle browsing", nil, nil))
}

func plainSnapshot(url string) *schemas.ContentSnapshot {
	return &schemas.ContentSnapshot{URL: url, CapturedAt: time.Now(), LinkCount: 10}
}

func TestController_StartValidation(t *testing.T) {
	f := setupController(t)

	err := f.ctrl.Start(context.Background(), "", "goal", nil, nil)
	assert.Error(t, err, "empty initial URL must be rejected")

	f.start(t)
	err = f.ctrl.Start(context.Background(), "https://example.com", "goal", nil, nil)
	assert.Error(t, err, "a running session cannot be started twice")
}

func TestController_StartFailsOnNavigationError(t *testing.T) {
	f := setupController(t)
	f.executor.On("Execute", mock.Anything, f.page, mock.Anything).
		Return(errors.New("dns failure")).Once()

	err := f.ctrl.Start(context.Background(), "https://example.com", "goal", nil, nil)
	require.Error(t, err)
	assert.Equal(t, StateNotStarted, f.ctrl.State())
}

func TestController_ZeroMinimumEndsBeforePlanning(t *testing.T) {
	f := setupController(t, func(cfg *config.SessionConfig) {
		cfg.MinDuration = 0
	})
	f.start(t)
	f.page.On("IsOpen").Return(true)

	err := f.ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateEnding, f.ctrl.State())

	f.scanner.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
	f.planner.AssertNotCalled(t, "RequestPlan", mock.Anything, mock.Anything)
}

func TestController_TaskQueuePreemptsPlanning(t *testing.T) {
	f := setupController(t)
	f.executor.On("Execute", mock.Anything, f.page, mock.MatchedBy(func(a ConcreteAction) bool {
		return a.Kind == ActionNavigate
	})).Return(nil).Once()

	queued := []AbstractAction{{Kind: ActionBrowse, Params: ActionParams{"iterations": 2}}}
	require.NoError(t, f.ctrl.Start(context.Background(), "https://example.com", "goal", queued, nil))

	f.page.On("IsOpen").Return(true).Once()
	f.page.On("IsOpen").Return(false) // Ends the loop on the next pass.
	f.page.On("CurrentURL", mock.Anything).Return("https://example.com", nil)
	f.scanner.On("Scan", mock.Anything, f.page).Return(plainSnapshot("https://example.com"), nil).Once()
	f.executor.On("Execute", mock.Anything, f.page, mock.MatchedBy(func(a ConcreteAction) bool {
		return a.Kind == ActionBrowse && a.Iterations == 2
	})).Return(nil).Once()

	err := f.ctrl.Run(context.Background())
	assert.ErrorIs(t, err, ErrBrowserGone)

	f.planner.AssertNotCalled(t, "RequestPlan", mock.Anything, mock.Anything)
	f.executor.AssertExpectations(t)
}

func TestController_StuckSessionRecovers(t *testing.T) {
	f := setupController(t)
	f.start(t)

	// Five consecutive entries on the same URL mark the session stuck.
	for i := 0; i < 5; i++ {
		f.ctrl.session.History = append(f.ctrl.session.History, HistoryEntry{
			Kind: ActionBrowse, URL: "https://a.com", Status: statusSuccess,
		})
	}
	f.ctrl.session.Failed.Add("Some Target")

	f.page.On("IsOpen").Return(true).Once()
	f.page.On("IsOpen").Return(false)
	f.page.On("CurrentURL", mock.Anything).Return("https://www.google.com", nil)
	f.executor.On("Execute", mock.Anything, f.page, mock.MatchedBy(func(a ConcreteAction) bool {
		return a.Kind == ActionNavigate && a.URL == "https://www.google.com"
	})).Return(nil).Once()

	err := f.ctrl.Run(context.Background())
	assert.ErrorIs(t, err, ErrBrowserGone)

	// Recovery, not planning: the scanner is never consulted.
	f.scanner.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
	assert.Len(t, f.ctrl.session.History, 2, "history must be truncated to the configured tail")
	assert.Empty(t, f.ctrl.session.Failed, "failed-element memory resets on recovery")
}

func TestController_BlockedPageRecovers(t *testing.T) {
	f := setupController(t)
	f.start(t)

	f.page.On("IsOpen").Return(true).Once()
	f.page.On("IsOpen").Return(false)
	f.page.On("CurrentURL", mock.Anything).Return("https://www.google.com", nil)
	f.scanner.On("Scan", mock.Anything, f.page).
		Return(&schemas.ContentSnapshot{URL: "https://b.com", BotChallenge: true}, nil).Once()
	f.executor.On("Execute", mock.Anything, f.page, mock.MatchedBy(func(a ConcreteAction) bool {
		return a.Kind == ActionNavigate
	})).Return(nil).Once()

	err := f.ctrl.Run(context.Background())
	assert.ErrorIs(t, err, ErrBrowserGone)
	f.planner.AssertNotCalled(t, "RequestPlan", mock.Anything, mock.Anything)
}

func TestController_FatalExecutionEndsSession(t *testing.T) {
	f := setupController(t)
	f.executor.On("Execute", mock.Anything, f.page, mock.MatchedBy(func(a ConcreteAction) bool {
		return a.Kind == ActionNavigate
	})).Return(nil).Once()
	queued := []AbstractAction{{Kind: ActionBrowse}}
	require.NoError(t, f.ctrl.Start(context.Background(), "https://example.com", "goal", queued, nil))

	f.page.On("IsOpen").Return(true)
	f.scanner.On("Scan", mock.Anything, f.page).Return(plainSnapshot("https://example.com"), nil).Once()
	f.executor.On("Execute", mock.Anything, f.page, mock.MatchedBy(func(a ConcreteAction) bool {
		return a.Kind == ActionBrowse
	})).Return(errors.New("browser is gone: tab crashed")).Once()

	err := f.ctrl.Run(context.Background())
	require.ErrorIs(t, err, ErrBrowserGone)
	assert.Equal(t, StateEnding, f.ctrl.State())

	require.Len(t, f.ctrl.session.History, 1)
	assert.Equal(t, statusError, f.ctrl.session.History[0].Status)
}

func TestController_RecoverableFailureCostsOnlyThatTask(t *testing.T) {
	f := setupController(t)
	f.executor.On("Execute", mock.Anything, f.page, mock.MatchedBy(func(a ConcreteAction) bool {
		return a.Kind == ActionNavigate
	})).Return(nil).Once()
	queued := []AbstractAction{
		{Kind: ActionClickLink, Params: ActionParams{"criteria": "first"}},
		{Kind: ActionBrowse},
	}
	require.NoError(t, f.ctrl.Start(context.Background(), "https://example.com", "goal", queued, nil))

	f.page.On("IsOpen").Return(true).Once()
	f.page.On("IsOpen").Return(false)
	f.scanner.On("Scan", mock.Anything, f.page).Return(plainSnapshot("https://example.com"), nil).Once()
	// The grounded click degrades to browse (no elements), then fails.
	f.executor.On("Execute", mock.Anything, f.page, mock.MatchedBy(func(a ConcreteAction) bool {
		return a.Kind == ActionBrowse
	})).Return(errors.New("element vanished")).Once()

	err := f.ctrl.Run(context.Background())
	assert.ErrorIs(t, err, ErrBrowserGone)

	// The first queued task executed and failed; the second stays queued.
	f.executor.AssertNumberOfCalls(t, "Execute", 2)
	require.Len(t, f.ctrl.session.History, 1)
	assert.Equal(t, statusError, f.ctrl.session.History[0].Status)
	require.Len(t, f.ctrl.session.TaskQueue, 1)
	assert.Equal(t, ActionBrowse, f.ctrl.session.TaskQueue[0].Kind)
}

func TestController_TaskQueueDequeuesOnePerIteration(t *testing.T) {
	f := setupController(t)
	f.executor.On("Execute", mock.Anything, f.page, mock.MatchedBy(func(a ConcreteAction) bool {
		return a.Kind == ActionNavigate
	})).Return(nil).Once()
	queued := []AbstractAction{
		{Kind: ActionBrowse, Params: ActionParams{"iterations": 2}},
		{Kind: ActionWatch},
	}
	require.NoError(t, f.ctrl.Start(context.Background(), "https://example.com", "goal", queued, nil))

	f.page.On("IsOpen").Return(true).Twice()
	f.page.On("IsOpen").Return(false)
	f.page.On("CurrentURL", mock.Anything).Return("https://example.com", nil)
	f.scanner.On("Scan", mock.Anything, f.page).Return(plainSnapshot("https://example.com"), nil).Twice()
	f.executor.On("Execute", mock.Anything, f.page, mock.MatchedBy(func(a ConcreteAction) bool {
		return a.Kind == ActionBrowse && a.Iterations == 2
	})).Return(nil).Once()
	f.executor.On("Execute", mock.Anything, f.page, mock.MatchedBy(func(a ConcreteAction) bool {
		return a.Kind == ActionWatch
	})).Return(nil).Once()

	err := f.ctrl.Run(context.Background())
	assert.ErrorIs(t, err, ErrBrowserGone)

	f.planner.AssertNotCalled(t, "RequestPlan", mock.Anything, mock.Anything)
	f.executor.AssertExpectations(t)
	assert.Empty(t, f.ctrl.session.TaskQueue)
}

func TestController_HistoryRecordsResultingURL(t *testing.T) {
	f := setupController(t)
	f.start(t)
	f.ctrl.session.Context = DerivePageContext("https://a.com")

	// Four steps stay on the same page, the fifth lands somewhere new.
	urls := []string{
		"https://a.com", "https://a.com", "https://a.com", "https://a.com",
		"https://b.com/article",
	}
	for _, u := range urls {
		f.page.On("CurrentURL", mock.Anything).Return(u, nil).Once()
	}
	f.scanner.On("Scan", mock.Anything, f.page).Return(plainSnapshot("https://a.com"), nil)
	f.executor.On("Execute", mock.Anything, f.page, mock.Anything).Return(nil)

	plan := make([]AbstractAction, len(urls))
	for i := range plan {
		plan[i] = AbstractAction{Kind: ActionBrowse}
	}
	require.NoError(t, f.ctrl.executePlan(context.Background(), plan, plainSnapshot("https://a.com")))

	require.Len(t, f.ctrl.session.History, 5)
	assert.Equal(t, "https://b.com/article", f.ctrl.session.History[4].URL,
		"history must carry the URL a step produced")
	assert.False(t, f.ctrl.isStuck(),
		"a session that just reached a new page is not stuck")
}

func TestController_ScanFailureTreatedAsBlocked(t *testing.T) {
	f := setupController(t)
	f.start(t)

	f.page.On("IsOpen").Return(true).Once()
	f.page.On("IsOpen").Return(false)
	f.page.On("CurrentURL", mock.Anything).Return("https://www.google.com", nil)
	f.scanner.On("Scan", mock.Anything, f.page).
		Return(nil, errors.New("probe evaluation failed")).Once()
	f.executor.On("Execute", mock.Anything, f.page, mock.MatchedBy(func(a ConcreteAction) bool {
		return a.Kind == ActionNavigate && a.URL == "https://www.google.com"
	})).Return(nil).Once()

	err := f.ctrl.Run(context.Background())
	assert.ErrorIs(t, err, ErrBrowserGone)

	// The failed scan degrades to a blocked page and recovers, never plans.
	f.planner.AssertNotCalled(t, "RequestPlan", mock.Anything, mock.Anything)
	f.executor.AssertExpectations(t)
}

func TestController_DomainChangeClearsFailedMemory(t *testing.T) {
	f := setupController(t)
	f.executor.On("Execute", mock.Anything, f.page, mock.MatchedBy(func(a ConcreteAction) bool {
		return a.Kind == ActionNavigate
	})).Return(nil).Once()
	queued := []AbstractAction{{Kind: ActionBrowse}}
	require.NoError(t, f.ctrl.Start(context.Background(), "https://example.com", "goal", queued, nil))
	f.ctrl.session.Failed.Add("Stale Target")

	f.page.On("IsOpen").Return(true).Once()
	f.page.On("IsOpen").Return(false)
	f.page.On("CurrentURL", mock.Anything).Return("https://elsewhere.org/page", nil)
	f.scanner.On("Scan", mock.Anything, f.page).Return(plainSnapshot("https://example.com"), nil).Once()
	f.executor.On("Execute", mock.Anything, f.page, mock.MatchedBy(func(a ConcreteAction) bool {
		return a.Kind == ActionBrowse
	})).Return(nil).Once()

	err := f.ctrl.Run(context.Background())
	assert.ErrorIs(t, err, ErrBrowserGone)

	assert.Empty(t, f.ctrl.session.Failed)
	assert.Equal(t, "elsewhere.org", f.ctrl.session.Context.Domain)
}

func TestController_HeuristicFallbackWhenPlannerEmpty(t *testing.T) {
	f := setupController(t)
	f.start(t)

	f.page.On("IsOpen").Return(true).Once()
	f.page.On("IsOpen").Return(false)
	f.page.On("CurrentURL", mock.Anything).Return("https://example.com", nil)
	f.scanner.On("Scan", mock.Anything, f.page).
		Return(&schemas.ContentSnapshot{URL: "https://example.com", HasVideo: true}, nil).Once()
	f.planner.On("RequestPlan", mock.Anything, mock.Anything).Return(nil, nil).Once()
	// The heuristic picks watch for a video page.
	f.executor.On("Execute", mock.Anything, f.page, mock.MatchedBy(func(a ConcreteAction) bool {
		return a.Kind == ActionWatch
	})).Return(nil).Once()

	err := f.ctrl.Run(context.Background())
	assert.ErrorIs(t, err, ErrBrowserGone)
	f.executor.AssertExpectations(t)
}

func TestController_ContextCancellationStopsRun(t *testing.T) {
	f := setupController(t)
	f.start(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.ctrl.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateEnding, f.ctrl.State())
}

func TestController_EndResetsState(t *testing.T) {
	f := setupController(t)
	f.start(t)
	f.ctrl.session.History = append(f.ctrl.session.History,
		HistoryEntry{Kind: ActionBrowse, Status: statusSuccess},
		HistoryEntry{Kind: ActionClickLink, Status: statusError, Error: "element vanished"},
	)

	status := f.ctrl.End()
	assert.Equal(t, StateEnded, status.State)
	assert.Equal(t, 2, status.ActionCount)
	assert.Equal(t, 1, status.FailedCount)
	assert.Equal(t, "idle browsing", status.Goal)
	assert.NotEmpty(t, status.ID)

	// The controller is reusable afterwards.
	assert.Equal(t, StateNotStarted, f.ctrl.State())
	f.start(t)
}

func TestController_EndWithoutStart(t *testing.T) {
	f := setupController(t)
	status := f.ctrl.End()
	assert.Equal(t, StateEnded, status.State)
	assert.Empty(t, status.ID)
}
