// Package browser drives a Chromium browser for the agent: navigation,
// content extraction, element interaction, login handling, and saved
// sessions. A chromedp driver controls a locally installed Chrome over
// CDP; when no Chrome is installed a Playwright driver falls back to
// its bundled Chromium.
package browser

import "time"

// Driver names accepted in Config.Driver. Empty means auto-detect.
const (
	DriverChromedp   = "chromedp"
	DriverPlaywright = "playwright"
)

const (
	// DefaultCDPPort is where an already-running Chrome exposes the
	// DevTools protocol when started with --remote-debugging-port.
	DefaultCDPPort = 9222

	// SessionTTL is how long a saved login session stays valid.
	SessionTTL = 7 * 24 * time.Hour
)

const (
	viewportWidth  = 1280
	viewportHeight = 720

	// maxContentLength bounds the sanitized page text handed to the model.
	maxContentLength = 5000

	// maxExtractLength bounds selectorless extract output.
	maxExtractLength = 10000

	// maxInteractiveElements caps the get_dom element listing.
	maxInteractiveElements = 50

	// maxFindCandidates caps the text-content element scan.
	maxFindCandidates = 10

	// defaultScrollAmount is the scroll step in pixels.
	defaultScrollAmount = 300

	defaultActionTimeout = 30 * time.Second
	defaultWaitTimeout   = 10 * time.Second
)

// defaultUserAgent masks automation as a desktop Chrome.
const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/120.0.0.0 Safari/537.36"

// truncationMarker is appended when page text is cut at the length cap.
const truncationMarker = "\n... (内容已截断)"
