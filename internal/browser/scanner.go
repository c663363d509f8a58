// internal/browser/scanner.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/wanderlust-sh/wander/api/schemas"
	"github.com/wanderlust-sh/wander/internal/agent"
)

// probeScript collects everything the agent needs to know about the current
// page in one evaluation: interactable elements plus coarse content flags.
// It must stay side-effect free.
const probeScript = `(() => {
	const MAX_TEXT = 100;
	const MAX_ELEMENTS = 120;
	const clip = (t) => (t || '').replace(/\s+/g, ' ').trim().slice(0, MAX_TEXT);

	const elements = [];
	const seen = new Set();
	for (const el of document.querySelectorAll('a[href], button, [role="button"], input[type="submit"]')) {
		if (elements.length >= MAX_ELEMENTS) break;
		const rect = el.getBoundingClientRect();
		if (rect.width < 2 || rect.height < 2) continue;
		const text = clip(el.innerText || el.value || el.getAttribute('aria-label'));
		if (!text || seen.has(text)) continue;
		seen.add(text);
		let tag = 'other';
		const name = el.tagName;
		if (name === 'A') tag = 'link';
		else if (name === 'BUTTON' || el.getAttribute('role') === 'button' || name === 'INPUT') tag = 'button';
		elements.push({ text: text, tag: tag, href: el.href || '' });
	}

	const bodyText = document.body ? document.body.innerText : '';
	const words = bodyText.split(/\s+/).filter(Boolean).length;

	return {
		title: clip(document.title),
		body_sample: clip(bodyText.slice(0, 400)),
		elements: elements,
		has_video: !!document.querySelector('video'),
		has_article: !!document.querySelector('article') || words > 600,
		has_search_box: !!document.querySelector('input[type="search"], input[name="q"], textarea[name="q"]'),
		has_comments: !!document.querySelector('#comments, .comments, [class*="comment-"]'),
		link_count: document.querySelectorAll('a[href]').length,
		word_count: words
	};
})()`

// pageProbe mirrors the probeScript return shape.
type pageProbe struct {
	Title      string `json:"title"`
	BodySample string `json:"body_sample"`
	Elements   []struct {
		Text string `json:"text"`
		Tag  string `json:"tag"`
		Href string `json:"href"`
	} `json:"elements"`
	HasVideo     bool `json:"has_video"`
	HasArticle   bool `json:"has_article"`
	HasSearchBox bool `json:"has_search_box"`
	HasComments  bool `json:"has_comments"`
	LinkCount    int  `json:"link_count"`
	WordCount    int  `json:"word_count"`
}

// botChallengeMarkers are title/body fragments that identify interstitial
// bot checks rather than real content.
var botChallengeMarkers = []string{
	"just a moment",
	"verify you are human",
	"checking your browser",
	"attention required",
	"are you a robot",
	"unusual traffic",
	"captcha",
}

// errorPageMarkers identify dead or denied pages.
var errorPageMarkers = []string{
	"404",
	"page not found",
	"403 forbidden",
	"access denied",
	"this site can't be reached",
	"err_",
	"service unavailable",
}

const scanTimeout = 20 * time.Second

// Scanner turns the live DOM into a content snapshot.
type Scanner struct {
	logger *zap.Logger
}

var _ agent.Scanner = (*Scanner)(nil)

// NewScanner creates a page scanner.
func NewScanner(logger *zap.Logger) *Scanner {
	return &Scanner{logger: logger.Named("scanner")}
}

// Scan evaluates the probe script and classifies the result. Pages behind
// bot checks or error screens come back with the blocking flags set rather
// than as errors, so the controller can decide to recover.
func (s *Scanner) Scan(ctx context.Context, page agent.Page) (*schemas.ContentSnapshot, error) {
	bp, ok := page.(*Page)
	if !ok {
		return nil, fmt.Errorf("scanner requires a browser page, got %T", page)
	}

	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	var loc string
	var probe pageProbe
	err := bp.Run(scanCtx,
		chromedp.Location(&loc),
		chromedp.Evaluate(probeScript, &probe),
	)
	if err != nil {
		return nil, fmt.Errorf("page probe failed: %w", err)
	}

	snap := &schemas.ContentSnapshot{
		URL:          loc,
		CapturedAt:   time.Now(),
		HasVideo:     probe.HasVideo,
		HasArticle:   probe.HasArticle,
		HasSearchBox: probe.HasSearchBox,
		HasComments:  probe.HasComments,
		LinkCount:    probe.LinkCount,
		WordCount:    probe.WordCount,
	}
	for _, el := range probe.Elements {
		snap.Elements = append(snap.Elements, schemas.PageElement{
			Text: el.Text,
			Tag:  elementTag(el.Tag),
			Href: el.Href,
		})
	}

	haystack := strings.ToLower(probe.Title + " " + probe.BodySample)
	snap.BotChallenge = containsMarker(haystack, botChallengeMarkers)
	snap.ErrorPage = containsMarker(haystack, errorPageMarkers) && probe.WordCount < 200

	s.logger.Debug("Page scanned",
		zap.String("url", loc),
		zap.Int("elements", len(snap.Elements)),
		zap.Int("links", snap.LinkCount),
		zap.Bool("blocked", snap.Blocked()))
	return snap, nil
}

func elementTag(raw string) schemas.ElementTag {
	switch raw {
	case "link":
		return schemas.TagLink
	case "button":
		return schemas.TagButton
	case "input":
		return schemas.TagInput
	default:
		return schemas.TagOther
	}
}

func containsMarker(haystack string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(haystack, m) {
			return true
		}
	}
	return false
}
