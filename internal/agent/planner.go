// internal/agent/planner.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wanderlust-sh/wander/api/schemas"
	"github.com/wanderlust-sh/wander/internal/config"
)

// CallRate classifies the recent backend call frequency. It exists to surface
// a warning; only the critical class engages the breaker.
type CallRate string

const (
	RateNormal   CallRate = "normal"
	RateHigh     CallRate = "high"
	RateCritical CallRate = "critical"
)

// linkDensityThreshold is the link count past which the heuristic treats a
// page as a link hub worth clicking into.
const linkDensityThreshold = 30

// PlanRequest carries everything the backend needs to produce the next chain
// of abstract actions.
type PlanRequest struct {
	Goal     string
	Context  PageContext
	History  []HistoryEntry
	Snapshot *schemas.ContentSnapshot
	Persona  *schemas.Persona
}

// Planner asks a generative backend for the next plan. It owns the sliding
// window of call timestamps and the fast/heavy tier selection. A Planner is
// bound to one session and is not safe for concurrent use; the controller
// drives it strictly sequentially.
type Planner struct {
	cfg    config.PlannerConfig
	llm    schemas.LLMClient
	logger *zap.Logger

	// loadAverage supplies the external load signal (0-100, rolling
	// average). Nil means the heavy tier is never engaged.
	loadAverage func() float64

	callLog    []time.Time
	lastRate   CallRate
	lastSwitch time.Time
	limiter    *rate.Limiter

	// Mockable clock for tests.
	now func() time.Time
}

var _ PlanRequester = (*Planner)(nil)

// NewPlanner creates a planner over the given tiered backend client.
func NewPlanner(cfg config.PlannerConfig, llm schemas.LLMClient, loadAverage func() float64, logger *zap.Logger) *Planner {
	var limiter *rate.Limiter
	if cfg.CriticalRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.CriticalRate), 1)
	}
	return &Planner{
		cfg:         cfg,
		llm:         llm,
		logger:      logger.Named("planner"),
		loadAverage: loadAverage,
		lastRate:    RateNormal,
		limiter:     limiter,
		now:         time.Now,
	}
}

// RequestPlan asks the backend for an ordered list of abstract actions.
// A nil, nil return means "no plan produced": backend failure, unparseable
// output and breaker rejections all land there, and the controller falls back
// to the content heuristic. Errors from the backend are never propagated.
func (p *Planner) RequestPlan(ctx context.Context, req PlanRequest) ([]AbstractAction, error) {
	now := p.now()
	classification := p.recordCall(now)

	if classification == RateCritical && p.limiter != nil && !p.limiter.Allow() {
		p.logger.Warn("Backend call rate critical, breaker rejecting plan request",
			zap.Int("calls_in_window", len(p.callLog)))
		return nil, nil
	}

	tier := p.selectTier(now)

	reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout())
	defer cancel()

	response, err := p.llm.Generate(reqCtx, schemas.GenerationRequest{
		SystemPrompt: p.systemPrompt(),
		UserPrompt:   p.userPrompt(req),
		Tier:         tier,
		Options:      schemas.GenerationOptions{Temperature: 0.4},
	})
	if err != nil {
		p.logger.Warn("Backend plan request failed, falling back to heuristic", zap.Error(err))
		return nil, nil
	}

	plan := ExtractPlan(response)
	if plan == nil {
		p.logger.Warn("Backend response yielded no parseable plan",
			zap.Int("response_len", len(response)))
		return nil, nil
	}

	p.logger.Info("Plan received",
		zap.String("tier", string(tier)),
		zap.Int("steps", len(plan)))
	return plan, nil
}

// recordCall appends the call timestamp, prunes the sliding window and
// returns the resulting rate classification, logging transitions.
func (p *Planner) recordCall(now time.Time) CallRate {
	p.callLog = append(p.callLog, now)
	cutoff := now.Add(-p.cfg.CallWindow)
	for len(p.callLog) > 0 && p.callLog[0].Before(cutoff) {
		p.callLog = p.callLog[1:]
	}

	classification := RateNormal
	switch {
	case len(p.callLog) >= p.cfg.CriticalCallCount:
		classification = RateCritical
	case len(p.callLog) >= p.cfg.HighCallCount:
		classification = RateHigh
	}

	if classification != p.lastRate {
		p.logger.Warn("Backend call rate classification changed",
			zap.String("from", string(p.lastRate)),
			zap.String("to", string(classification)),
			zap.Int("calls_in_window", len(p.callLog)),
			zap.Duration("window", p.cfg.CallWindow))
		p.lastRate = classification
	}
	return classification
}

// selectTier routes to the heavy backend when the load average is past the
// high-water mark and the switch cooldown has elapsed. The choice is a pure
// function of (load average, time since last switch), so tier changes can
// never thrash faster than the cooldown.
func (p *Planner) selectTier(now time.Time) schemas.ModelTier {
	if p.loadAverage == nil {
		return schemas.TierFast
	}
	load := p.loadAverage()
	if load >= p.cfg.LoadHighWater && now.Sub(p.lastSwitch) >= p.cfg.SwitchCooldown {
		p.lastSwitch = now
		p.logger.Info("Load high, refueling on heavy backend tier",
			zap.Float64("load_average", load),
			zap.Float64("high_water", p.cfg.LoadHighWater))
		return schemas.TierHeavy
	}
	return schemas.TierFast
}

func (p *Planner) requestTimeout() time.Duration {
	if p.cfg.RequestTimeout > 0 {
		return p.cfg.RequestTimeout
	}
	return 90 * time.Second
}

func (p *Planner) systemPrompt() string {
	return `You plan the next moves of an autonomous web browsing session.
You receive the session goal, the current page situation and the recent action history.
Respond with ONLY a JSON array of action objects, nothing else.

Each object has the form {"action": "<kind>", "params": {...}}.
Available kinds:
- "search": params.criteria describes what to search for.
- "click-result": params.criteria describes which search result to open.
- "click-link": params.criteria describes which link on the page to follow.
- "browse": params.iterations (number) scroll-and-read passes on the current page.
- "watch": params.duration (seconds) to stay on the current video.
- "navigate": params.url to go to directly.

Rules:
- Do not repeat the same high-level move back to back. If the situation is
  already a results page, pick a result instead of searching again.
- Describe targets by intent, never by CSS selector.
- Prefer a batch of 3-5 steps so the session can run a while between plans.`
}

func (p *Planner) userPrompt(req PlanRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Session goal: %s\n", req.Goal)
	fmt.Fprintf(&b, "Current URL: %s (page type: %s)\n", req.Context.URL, req.Context.Kind)

	if req.Persona != nil {
		fmt.Fprintf(&b, "Persona: %s; interests: %s", req.Persona.Name, strings.Join(req.Persona.Interests, ", "))
		if req.Persona.Routine != "" {
			fmt.Fprintf(&b, "; routine: %s", req.Persona.Routine)
		}
		b.WriteString("\n")
	}

	if snap := req.Snapshot; snap != nil {
		fmt.Fprintf(&b, "Page flags: video=%t article=%t search_box=%t comments=%t links=%d\n",
			snap.HasVideo, snap.HasArticle, snap.HasSearchBox, snap.HasComments, snap.LinkCount)
		if n := len(snap.Elements); n > 0 {
			limit := p.cfg.PromptMaxElements
			if limit <= 0 || limit > n {
				limit = n
			}
			b.WriteString("Visible elements (sample):\n")
			for _, el := range snap.Elements[:limit] {
				fmt.Fprintf(&b, "- [%s] %s\n", el.Tag, el.Text)
			}
		}
	}

	if len(req.History) > 0 {
		b.WriteString("Recent actions (oldest first):\n")
		for _, h := range req.History {
			line := fmt.Sprintf("- %s %q -> %s (%s)", h.Kind, h.Target, h.URL, h.Status)
			if h.Error != "" {
				line += ": " + h.Error
			}
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\nProduce the next batch of actions as a JSON array.")
	return b.String()
}

// HeuristicPlan is the deterministic content-based fallback used when the
// backend produced nothing. It never touches the network and always returns
// at least one action. Priority order: video, long-form content, link-dense
// page, search box, generic browse.
func HeuristicPlan(snap *schemas.ContentSnapshot) []AbstractAction {
	switch {
	case snap != nil && snap.HasVideo:
		return []AbstractAction{{Kind: ActionWatch}}
	case snap != nil && snap.HasArticle:
		return []AbstractAction{{Kind: ActionBrowse, Params: ActionParams{"iterations": 4}}}
	case snap != nil && snap.LinkCount >= linkDensityThreshold:
		return []AbstractAction{{
			Kind:   ActionClickLink,
			Params: ActionParams{"criteria": "most relevant content link"},
		}}
	case snap != nil && snap.HasSearchBox:
		return []AbstractAction{{Kind: ActionSearch, Params: ActionParams{}}}
	default:
		return []AbstractAction{{Kind: ActionBrowse, Params: ActionParams{"iterations": 2}}}
	}
}
