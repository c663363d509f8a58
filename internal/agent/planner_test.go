// File: internal/agent/planner_test.go
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

// mockClock returns a controllable clock starting at a fixed instant.
type mockClock struct {
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time          { return c.now }
func (c *mockClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setupPlanner(t *testing.T, modify ...func(*config.PlannerConfig)) (*Planner, *MockLLMClient, *mockClock) {
	t.Helper()
	cfg := config.NewDefaultConfig().Planner
	cfg.CriticalRate = 0 // Breaker off unless a test turns it on.
	for _, m := range modify {
		m(&cfg)
	}

	llm := new(MockLLMClient)
	clock := newMockClock()
	p := NewPlanner(cfg, llm, nil, zaptest.NewLogger(t))
	p.now = clock.Now
	return p, llm, clock
}

func TestRequestPlan_ParsesBackendResponse(t *testing.T) {
	p, llm, _ := setupPlanner(t)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(`[{"action":"search","params":{"criteria":"indie games"}},{"action":"click-result","params":{"criteria":"best result"}}]`, nil).
		Once()

	plan, err := p.RequestPlan(context.Background(), PlanRequest{Goal: "waste some time"})
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, ActionSearch, plan[0].Kind)
	assert.Equal(t, ActionClickResult, plan[1].Kind)
	llm.AssertExpectations(t)
}

func TestRequestPlan_DefaultsToFastTier(t *testing.T) {
	p, llm, _ := setupPlanner(t)
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierFast
	})).Return(`[{"action":"browse"}]`, nil).Once()

	_, err := p.RequestPlan(context.Background(), PlanRequest{})
	require.NoError(t, err)
	llm.AssertExpectations(t)
}

func TestRequestPlan_BackendFailureYieldsNoPlan(t *testing.T) {
	p, llm, _ := setupPlanner(t)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return("", errors.New("backend unreachable")).Once()

	plan, err := p.RequestPlan(context.Background(), PlanRequest{})
	assert.NoError(t, err, "backend failures are absorbed, never propagated")
	assert.Nil(t, plan)
}

func TestRequestPlan_UnparseableResponseYieldsNoPlan(t *testing.T) {
	p, llm, _ := setupPlanner(t)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return("I am unable to help with that.", nil).Once()

	plan, err := p.RequestPlan(context.Background(), PlanRequest{})
	assert.NoError(t, err)
	assert.Nil(t, plan)
}

func TestRecordCall_Classification(t *testing.T) {
	p, _, clock := setupPlanner(t, func(cfg *config.PlannerConfig) {
		cfg.CallWindow = 5 * time.Minute
		cfg.HighCallCount = 3
		cfg.CriticalCallCount = 5
	})

	assert.Equal(t, RateNormal, p.recordCall(clock.Now()))
	assert.Equal(t, RateNormal, p.recordCall(clock.Now()))
	assert.Equal(t, RateHigh, p.recordCall(clock.Now()))
	assert.Equal(t, RateHigh, p.recordCall(clock.Now()))
	assert.Equal(t, RateCritical, p.recordCall(clock.Now()))

	// Once the window slides past the burst, classification relaxes.
	clock.Advance(6 * time.Minute)
	assert.Equal(t, RateNormal, p.recordCall(clock.Now()))
}

func TestRecordCall_SlidingWindowPrunes(t *testing.T) {
	p, _, clock := setupPlanner(t, func(cfg *config.PlannerConfig) {
		cfg.CallWindow = time.Minute
		cfg.HighCallCount = 3
		cfg.CriticalCallCount = 10
	})

	p.recordCall(clock.Now())
	clock.Advance(30 * time.Second)
	p.recordCall(clock.Now())
	clock.Advance(45 * time.Second) // First call now outside the window.
	p.recordCall(clock.Now())

	assert.Len(t, p.callLog, 2)
}

func TestRequestPlan_CriticalRateBreaker(t *testing.T) {
	p, llm, _ := setupPlanner(t, func(cfg *config.PlannerConfig) {
		cfg.HighCallCount = 1
		cfg.CriticalCallCount = 2
		cfg.CriticalRate = 0.001 // Effectively one call, then closed.
	})
	llm.On("Generate", mock.Anything, mock.Anything).Return(`[{"action":"browse"}]`, nil)

	// First call: normal rate, goes through.
	plan, err := p.RequestPlan(context.Background(), PlanRequest{})
	require.NoError(t, err)
	require.NotNil(t, plan)

	// Second call reaches critical; the limiter's burst token is spent on
	// it, the third is rejected without touching the backend.
	_, _ = p.RequestPlan(context.Background(), PlanRequest{})
	plan, err = p.RequestPlan(context.Background(), PlanRequest{})
	assert.NoError(t, err)
	assert.Nil(t, plan, "breaker must reject the call at sustained critical rate")
	llm.AssertNumberOfCalls(t, "Generate", 2)
}

func TestSelectTier_LoadAndCooldown(t *testing.T) {
	load := 90.0
	cfg := config.NewDefaultConfig().Planner
	cfg.LoadHighWater = 75
	cfg.SwitchCooldown = 2 * time.Minute

	llm := new(MockLLMClient)
	clock := newMockClock()
	p := NewPlanner(cfg, llm, func() float64 { return load }, zaptest.NewLogger(t))
	p.now = clock.Now

	// High load, cooldown long since elapsed: heavy.
	assert.Equal(t, schemas.TierHeavy, p.selectTier(clock.Now()))

	// Immediately again: inside the cooldown, back to fast.
	assert.Equal(t, schemas.TierFast, p.selectTier(clock.Now()))

	// After the cooldown the heavy tier is available again.
	clock.Advance(3 * time.Minute)
	assert.Equal(t, schemas.TierHeavy, p.selectTier(clock.Now()))

	// Low load never routes heavy, regardless of cooldown state.
	load = 10
	clock.Advance(3 * time.Minute)
	assert.Equal(t, schemas.TierFast, p.selectTier(clock.Now()))
}

func TestHeuristicPlan_Priorities(t *testing.T) {
	cases := []struct {
		name string
		snap *schemas.ContentSnapshot
		want ActionKind
	}{
		{"video page", &schemas.ContentSnapshot{HasVideo: true, HasArticle: true}, ActionWatch},
		{"article page", &schemas.ContentSnapshot{HasArticle: true, LinkCount: 100}, ActionBrowse},
		{"link hub", &schemas.ContentSnapshot{LinkCount: 60, HasSearchBox: true}, ActionClickLink},
		{"search page", &schemas.ContentSnapshot{HasSearchBox: true}, ActionSearch},
		{"anything else", &schemas.ContentSnapshot{}, ActionBrowse},
		{"nil snapshot", nil, ActionBrowse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := HeuristicPlan(tc.snap)
			require.NotEmpty(t, plan, "the heuristic always produces at least one action")
			assert.Equal(t, tc.want, plan[0].Kind)
		})
	}
}
