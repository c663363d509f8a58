// Package schemas holds the data types shared between the agent core, the
// browser layer and the backend clients. Keeping them here avoids import
// cycles between the packages that produce and consume them.
package schemas

import "time"

// ElementTag is the coarse category the scanner assigns to an interactive
// element. It is deliberately smaller than the HTML tag vocabulary; the
// grounding scorer only cares about links versus controls.
type ElementTag string

const (
	TagLink   ElementTag = "a"
	TagButton ElementTag = "button"
	TagInput  ElementTag = "input"
	TagOther  ElementTag = "other"
)

// PageElement is one interactive element candidate from a page scan. Text is
// truncated by the scanner to MaxElementTextLen runes before it ever reaches
// the agent.
type PageElement struct {
	Text string     `json:"text"`
	Tag  ElementTag `json:"tag"`
	Href string     `json:"href,omitempty"`
}

// MaxElementTextLen bounds the visible text carried per element.
const MaxElementTextLen = 100

// ContentSnapshot is an immutable per-scan description of the current page.
// It is produced fresh before every planning step and never mutated.
type ContentSnapshot struct {
	URL        string    `json:"url"`
	CapturedAt time.Time `json:"captured_at"`

	// Blocking conditions. Either flag is a hard interrupt for the
	// session controller, not a planning input.
	ErrorPage    bool `json:"error_page"`
	BotChallenge bool `json:"bot_challenge"`

	// Content-type flags used by the heuristic fallback planner and the
	// planning prompt.
	HasVideo     bool `json:"has_video"`
	HasArticle   bool `json:"has_article"`
	HasSearchBox bool `json:"has_search_box"`
	HasComments  bool `json:"has_comments"`

	LinkCount int `json:"link_count"`
	WordCount int `json:"word_count"`

	Elements []PageElement `json:"elements"`
}

// Blocked reports whether the snapshot carries a condition that must
// interrupt normal planning.
func (s *ContentSnapshot) Blocked() bool {
	return s != nil && (s.ErrorPage || s.BotChallenge)
}

// BlockedSnapshot builds the snapshot the controller substitutes when the
// scanner itself fails. A failed scan is treated as a blocked page, never as
// a crash.
func BlockedSnapshot(url string) *ContentSnapshot {
	return &ContentSnapshot{URL: url, CapturedAt: time.Now().UTC(), ErrorPage: true}
}

// PersonaStats tracks the evolving performance counters of a persona across
// sessions. They are persisted by the profile store when one is configured.
type PersonaStats struct {
	SessionsCompleted int `json:"sessions_completed"`
	ActionsTaken      int `json:"actions_taken"`
	ActionsFailed     int `json:"actions_failed"`
}

// Persona carries the optional behavioral payload attached to a session. It
// biases grounding scores toward the persona's interests and is summarized
// into the planning prompt; the core never requires one.
type Persona struct {
	Name      string       `json:"name"`
	Interests []string     `json:"interests"`
	Routine   string       `json:"routine,omitempty"`
	Stats     PersonaStats `json:"stats"`
}
