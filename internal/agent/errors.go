// internal/agent/errors.go
package agent

import (
	"context"
	"errors"
	"strings"
)

// ErrBrowserGone signals that the browser or tab itself is gone, not merely
// the page content. It is the only error class the controller propagates to
// its caller; everything else is recovered in-session.
var ErrBrowserGone = errors.New("browser or tab is gone")

// fatalSubstrings are matched case-insensitively against executor error
// messages. They come from the phrases chromedp and the CDP transport emit
// when the target process or websocket dies.
var fatalSubstrings = []string{
	"crashed",
	"browser is gone",
	"target closed",
	"tab closed",
	"session closed",
	"websocket url timeout",
	"context canceled",
	"context deadline exceeded: websocket",
}

// IsFatal classifies an executor or scanner error. Fatal means the underlying
// browser process must be restarted by the caller; in-session recovery is
// pointless.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBrowserGone) {
		return true
	}
	// A cancelled parent context means the whole run is shutting down;
	// treat it as fatal so the loop unwinds immediately.
	if errors.Is(err, context.Canceled) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range fatalSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
