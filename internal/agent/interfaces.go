// File: internal/agent/interfaces.go
package agent

import (
	"context"

	"github.com/wanderlust-sh/wander/api/schemas"
)

// Page is the opaque handle to one browser tab. The agent core never touches
// the DOM through it; it only reads location and liveness.
type Page interface {
	// CurrentURL returns the tab's current location.
	CurrentURL(ctx context.Context) (string, error)
	// IsOpen reports whether the tab (and its browsing context) is still
	// alive. A closed page must short-circuit the session loop on the
	// next check.
	IsOpen() bool
}

// Scanner produces a fresh content snapshot of the page. A scan failure is
// reported as an error; the controller substitutes a blocked snapshot rather
// than crashing.
type Scanner interface {
	Scan(ctx context.Context, page Page) (*schemas.ContentSnapshot, error)
}

// Executor performs one concrete action against the page. Errors carry
// human-readable messages; the controller classifies them by substring into
// fatal (browser gone) and recoverable.
type Executor interface {
	Execute(ctx context.Context, page Page, action ConcreteAction) error
}

// PlanRequester produces an ordered list of abstract actions for the current
// situation, or nil to signal "use the heuristic fallback".
type PlanRequester interface {
	RequestPlan(ctx context.Context, req PlanRequest) ([]AbstractAction, error)
}
