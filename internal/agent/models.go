// internal/agent/models.go
package agent

import (
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/wanderlust-sh/wander/api/schemas"
)

// SessionState tracks where a session is in its lifecycle.
type SessionState string

const (
	StateNotStarted SessionState = "NOT_STARTED"
	StateRunning    SessionState = "RUNNING"
	StateEnding     SessionState = "ENDING" // Minimum duration reached, loop winding down.
	StateEnded      SessionState = "ENDED"
)

// ActionKind is the closed vocabulary of plan steps. Anything else coming out
// of the backend is a parse failure, never a new runtime-defined type.
type ActionKind string

const (
	ActionSearch      ActionKind = "search"       // Perform a search for a keyword.
	ActionClickResult ActionKind = "click-result" // Click a result on a search/listing page.
	ActionClickLink   ActionKind = "click-link"   // Click a content link on the current page.
	ActionBrowse      ActionKind = "browse"       // Scroll and read the current page.
	ActionWatch       ActionKind = "watch"        // Stay on a video for a while.
	ActionNavigate    ActionKind = "navigate"     // Go directly to a URL.
)

// KnownKind reports whether k belongs to the action vocabulary.
func KnownKind(k ActionKind) bool {
	switch k {
	case ActionSearch, ActionClickResult, ActionClickLink, ActionBrowse, ActionWatch, ActionNavigate:
		return true
	}
	return false
}

// ActionParams is the loosely-typed parameter bag attached to an abstract
// action. The backend fills it with free text; only grounding reads it.
type ActionParams map[string]interface{}

// String returns the named parameter as a trimmed string, or "".
func (p ActionParams) String(key string) string {
	if p == nil {
		return ""
	}
	if v, ok := p[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// Int returns the named parameter as an int, or 0. JSON numbers arrive as
// float64, so both are accepted.
func (p ActionParams) Int(key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// AbstractAction is one plan step expressed as intent rather than a concrete
// selector. It exists only between plan generation and grounding.
type AbstractAction struct {
	Kind   ActionKind   `json:"action"`
	Params ActionParams `json:"params,omitempty"`
}

// Criteria returns the free-text grounding query of the action. The backend
// is inconsistent about the key it uses, so several are accepted.
func (a AbstractAction) Criteria() string {
	for _, key := range []string{"criteria", "intent", "target", "query"} {
		if v := a.Params.String(key); v != "" {
			return v
		}
	}
	return ""
}

// ConcreteAction is a fully resolved, directly executable action. It is the
// only type the executors accept. One field group per kind; unused fields
// stay zero.
type ConcreteAction struct {
	Kind ActionKind

	Keyword    string        // search
	TargetText string        // click-result / click-link: exact element text
	URL        string        // navigate
	Duration   time.Duration // watch
	Iterations int           // browse: scroll/read passes
}

// Target returns the element text or URL the action is bound to, for history
// and failure bookkeeping.
func (c ConcreteAction) Target() string {
	if c.TargetText != "" {
		return c.TargetText
	}
	if c.URL != "" {
		return c.URL
	}
	return c.Keyword
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// HistoryEntry records one executed step. History is append-only; it is only
// truncated to a short tail after a recovery event.
type HistoryEntry struct {
	Kind      ActionKind `json:"kind"`
	Target    string     `json:"target,omitempty"`
	URL       string     `json:"url"`
	Status    string     `json:"status"` // "success" or "error"
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

const (
	statusSuccess = "success"
	statusError   = "error"
)

// PageKind is the coarse page classification derived from the current URL.
type PageKind string

const (
	PageSearchResults PageKind = "search-results"
	PageVideo         PageKind = "video"
	PageGeneric       PageKind = "generic"
)

// PageContext is the session's view of where the browser currently is.
type PageContext struct {
	URL    string
	Host   string
	Domain string // Registrable domain (eTLD+1); scopes the failed-element memory.
	Kind   PageKind
}

// searchEngineHosts lists hosts whose result pages count as search-results
// context for planning and grounding.
var searchEngineHosts = []string{
	"google.", "bing.", "duckduckgo.", "search.brave.", "startpage.", "ecosia.",
}

// DerivePageContext classifies a URL. It never fails: unparseable URLs yield
// a generic context with the raw string preserved.
func DerivePageContext(rawURL string) PageContext {
	pc := PageContext{URL: rawURL, Kind: PageGeneric}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return pc
	}
	pc.Host = strings.ToLower(u.Hostname())
	pc.Domain = registrableDomain(pc.Host)

	switch {
	case isSearchEngineHost(pc.Host) && (strings.Contains(u.Path, "search") || u.Query().Has("q")):
		pc.Kind = PageSearchResults
	case strings.Contains(pc.Host, "youtube.") && strings.HasPrefix(u.Path, "/watch"),
		strings.Contains(pc.Host, "vimeo.") && u.Path != "/":
		pc.Kind = PageVideo
	}
	return pc
}

func isSearchEngineHost(host string) bool {
	for _, prefix := range searchEngineHosts {
		if strings.Contains(host, prefix) {
			return true
		}
	}
	return false
}

// registrableDomain reduces a host to its eTLD+1 so that the failed-element
// memory survives subdomain hops but resets on real domain changes.
func registrableDomain(host string) string {
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// FailedTargets is the session's memory of element texts that recently
// failed. It is scoped to the current domain and cleared on domain change.
type FailedTargets map[string]struct{}

// Add records a failed target text. Empty strings are ignored.
func (f FailedTargets) Add(text string) {
	if text == "" {
		return
	}
	f[text] = struct{}{}
}

// Contains reports whether the exact text previously failed.
func (f FailedTargets) Contains(text string) bool {
	_, ok := f[text]
	return ok
}

// Session is the mutable state of one browsing session, owned exclusively by
// the controller and mutated only between sequential steps.
type Session struct {
	ID          string
	Goal        string
	MinDuration time.Duration
	StartedAt   time.Time

	Context PageContext
	History []HistoryEntry

	// TaskQueue holds caller-supplied actions that preempt AI planning
	// until exhausted.
	TaskQueue []AbstractAction

	// Failed holds element texts that recently failed on the current
	// domain.
	Failed FailedTargets

	Persona *schemas.Persona
}

// Elapsed returns the wall-clock time since the session started.
func (s *Session) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}

// HasReachedMinimum reports whether the session has run for at least its
// minimum duration. A zero minimum is reached immediately.
func (s *Session) HasReachedMinimum() bool {
	return s.Elapsed() >= s.MinDuration
}

// TailHistory returns the last n history entries (or fewer).
func (s *Session) TailHistory(n int) []HistoryEntry {
	if n <= 0 || len(s.History) == 0 {
		return nil
	}
	if len(s.History) < n {
		n = len(s.History)
	}
	return s.History[len(s.History)-n:]
}

// SessionStatus is the final snapshot returned when a session ends.
type SessionStatus struct {
	ID          string        `json:"id"`
	Goal        string        `json:"goal"`
	Duration    time.Duration `json:"duration"`
	ActionCount int           `json:"action_count"`
	FailedCount int           `json:"failed_count"`
	FinalURL    string        `json:"final_url"`
	State       SessionState  `json:"state"`
}
