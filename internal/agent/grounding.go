// internal/agent/grounding.go
package agent

import (
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/wanderlust-sh/wander/api/schemas"
	"github.com/wanderlust-sh/wander/internal/config"
)

// Scoring weights. Kept as named constants so the scorer stays tunable
// without touching control flow.
const (
	scoreFullCriteriaMatch = 100 // Element text contains the whole criteria string.
	scoreCriteriaWord      = 15  // Per criteria word (len > 3) found in the text.
	scorePersonaInterest   = 20  // Per persona interest keyword found in the text.
	scoreIsLink            = 10
	scoreLongText          = 30 // Text longer than 30 chars: favors content titles.
	scoreVeryLongText      = 20 // Additional bonus past 60 chars.
	scoreIsButton          = -5 // Prefer content links over controls.
	scoreNavDenylist       = -100
	scoreEngineChrome      = -80
	scoreShortOrNumeric    = -20 // Text under 5 chars or digits-only.
	scoreVideoTerm         = 15  // Result clicks that mention video/platform terms.
	scoreOffEngineDomain   = 20  // Link leaves the search engine's domain.
	scoreFailedTarget      = -150

	longTextThreshold     = 30
	veryLongTextThreshold = 60
	shortTextThreshold    = 5
	minCriteriaWordLen    = 4
)

// navDenylist marks navigation and utility chrome that a goal-directed
// session should essentially never click.
var navDenylist = []string{
	"login", "log in", "sign in", "sign up", "register", "settings",
	"privacy", "policy", "terms", "menu", "account", "help", "support",
	"cookies", "cookie", "subscribe", "newsletter", "contact", "about us",
	"careers", "imprint", "faq",
}

// engineChromeDenylist marks search-engine UI around the actual results.
var engineChromeDenylist = []string{
	"tools", "filters", "maps", "images", "shopping", "news tab",
	"videos tab", "all results", "more results", "next page", "previous",
	"feedback", "clear", "advanced search", "safesearch",
}

// videoTerms bias result clicks toward watchable content.
var videoTerms = []string{
	"video", "watch", "episode", "tutorial", "trailer", "official",
	"channel", "youtube", "vlog", "stream", "documentary",
}

// commandPrefixes are stripped from criteria text when deriving a literal
// search keyword.
var commandPrefixes = []string{
	"search for", "search", "find", "look up", "look for", "google",
	"query", "research",
}

// Resolver maps one abstract action onto one concrete action, resolving the
// criteria free text against the snapshot's interactive elements.
type Resolver struct {
	cfg    config.SessionConfig
	logger *zap.Logger
}

// NewResolver creates a grounding resolver.
func NewResolver(cfg config.SessionConfig, logger *zap.Logger) *Resolver {
	return &Resolver{cfg: cfg, logger: logger.Named("grounding")}
}

// Resolve grounds a single abstract action against the snapshot. It never
// fails: a grounding miss degrades to a generic browse action. Before
// scoring, the target of an immediately preceding failed step is added to the
// session's failed-element memory, which is how the agent stops re-clicking a
// target that just failed.
func (r *Resolver) Resolve(action AbstractAction, snap *schemas.ContentSnapshot, sess *Session) ConcreteAction {
	if n := len(sess.History); n > 0 {
		if last := sess.History[n-1]; last.Status == statusError {
			sess.Failed.Add(last.Target)
		}
	}

	switch action.Kind {
	case ActionBrowse:
		iterations := action.Params.Int("iterations")
		if iterations <= 0 {
			iterations = 3
		}
		return ConcreteAction{Kind: ActionBrowse, Iterations: iterations}

	case ActionWatch:
		d := r.cfg.DefaultWatch
		if secs := action.Params.Int("duration"); secs > 0 {
			d = secondsToDuration(secs)
		} else if secs := action.Params.Int("seconds"); secs > 0 {
			d = secondsToDuration(secs)
		}
		return ConcreteAction{Kind: ActionWatch, Duration: d}

	case ActionNavigate:
		target := action.Params.String("url")
		if target == "" {
			target = action.Criteria()
		}
		if target == "" {
			return ConcreteAction{Kind: ActionBrowse, Iterations: 2}
		}
		return ConcreteAction{Kind: ActionNavigate, URL: target}

	case ActionSearch:
		return ConcreteAction{Kind: ActionSearch, Keyword: r.deriveKeyword(action)}

	case ActionClickResult, ActionClickLink:
		return r.groundClick(action, snap, sess)
	}

	// Unknown kinds cannot reach grounding through the extractor, but a
	// queued task could carry one. Degrade rather than fail the chain.
	r.logger.Warn("Unknown action kind at grounding, degrading to browse", zap.String("kind", string(action.Kind)))
	return ConcreteAction{Kind: ActionBrowse, Iterations: 2}
}

// deriveKeyword prefers a literal keyword, then strips command words off the
// criteria text, then falls back to the configured default topic.
func (r *Resolver) deriveKeyword(action AbstractAction) string {
	for _, key := range []string{"keyword", "query", "q"} {
		if v := action.Params.String(key); v != "" {
			return v
		}
	}

	keyword := strings.ToLower(action.Criteria())
	for _, prefix := range commandPrefixes {
		keyword = strings.TrimSpace(strings.TrimPrefix(keyword, prefix))
	}
	keyword = strings.Trim(keyword, `"' `)
	if keyword == "" {
		keyword = r.cfg.DefaultSearchTopic
	}
	return keyword
}

// groundClick scores every candidate element and binds the action to the
// highest-scoring one above zero. Ties resolve to the first element in
// snapshot order, which keeps grounding deterministic for a given snapshot.
func (r *Resolver) groundClick(action AbstractAction, snap *schemas.ContentSnapshot, sess *Session) ConcreteAction {
	if snap == nil || len(snap.Elements) == 0 {
		return ConcreteAction{Kind: ActionBrowse, Iterations: 2}
	}

	criteria := strings.ToLower(action.Criteria())
	pageCtx := DerivePageContext(snap.URL)

	best := -1
	bestScore := 0
	for i, el := range snap.Elements {
		score := r.scoreElement(action.Kind, el, criteria, pageCtx, sess)
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	if best < 0 {
		r.logger.Debug("Grounding miss, no element scored above zero",
			zap.String("criteria", criteria),
			zap.Int("candidates", len(snap.Elements)))
		return ConcreteAction{Kind: ActionBrowse, Iterations: 2}
	}

	chosen := snap.Elements[best]
	r.logger.Debug("Grounded click",
		zap.String("criteria", criteria),
		zap.String("target", chosen.Text),
		zap.Int("score", bestScore))
	return ConcreteAction{Kind: action.Kind, TargetText: chosen.Text, URL: chosen.Href}
}

func (r *Resolver) scoreElement(kind ActionKind, el schemas.PageElement, criteria string, pageCtx PageContext, sess *Session) int {
	text := strings.ToLower(el.Text)
	score := 0

	if criteria != "" && strings.Contains(text, criteria) {
		score += scoreFullCriteriaMatch
	}
	for _, word := range strings.Fields(criteria) {
		if len(word) >= minCriteriaWordLen && strings.Contains(text, word) {
			score += scoreCriteriaWord
		}
	}

	if sess.Persona != nil {
		for _, interest := range sess.Persona.Interests {
			if interest != "" && strings.Contains(text, strings.ToLower(interest)) {
				score += scorePersonaInterest
			}
		}
	}

	switch el.Tag {
	case schemas.TagLink:
		score += scoreIsLink
		if len(el.Text) > longTextThreshold {
			score += scoreLongText
		}
		if len(el.Text) > veryLongTextThreshold {
			score += scoreVeryLongText
		}
	case schemas.TagButton:
		score += scoreIsButton
	}

	if containsAny(text, navDenylist) {
		score += scoreNavDenylist
	}
	if containsAny(text, engineChromeDenylist) {
		score += scoreEngineChrome
	}
	if len(el.Text) < shortTextThreshold || isNumericOnly(el.Text) {
		score += scoreShortOrNumeric
	}

	if kind == ActionClickResult {
		if containsAny(text, videoTerms) {
			score += scoreVideoTerm
		}
		if pageCtx.Kind == PageSearchResults && linksOffDomain(el.Href, pageCtx.Domain) {
			score += scoreOffEngineDomain
		}
	}

	// A strong but not absolute veto: lets the agent retry a target when
	// nothing else on the page scores positively.
	if sess.Failed.Contains(el.Text) {
		score += scoreFailedTarget
	}

	return score
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

func isNumericOnly(text string) bool {
	if text == "" {
		return false
	}
	for _, r := range text {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func linksOffDomain(href, currentDomain string) bool {
	if href == "" || currentDomain == "" {
		return false
	}
	target := DerivePageContext(href)
	return target.Domain != "" && target.Domain != currentDomain
}
