package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/philonis/neo/internal/logging"
)

// driver is the primitive operation set a browser backend must provide.
// The Controller builds page-level semantics (content sanitization,
// element finding, login flows, session restore) on top of it.
type driver interface {
	// Start launches or attaches to a browser. Called once.
	Start(ctx context.Context) error

	// Navigate loads a URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error

	// WaitReady waits for the current page to finish loading.
	WaitReady(ctx context.Context) error

	// WaitVisible waits for a selector to become visible.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	// URL returns the current page URL.
	URL(ctx context.Context) (string, error)

	// Title returns the current page title.
	Title(ctx context.Context) (string, error)

	// HTML returns the full page markup.
	HTML(ctx context.Context) (string, error)

	// Click clicks the first element matching a CSS selector.
	Click(ctx context.Context, selector string) error

	// Fill clears an input matching a CSS selector and types a value.
	Fill(ctx context.Context, selector, value string) error

	// Evaluate runs JavaScript in the page. A non-nil out receives the
	// JSON-decoded result.
	Evaluate(ctx context.Context, script string, out any) error

	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// Cookies returns the browser context's cookies.
	Cookies(ctx context.Context) ([]Cookie, error)

	// SetCookies adds cookies to the browser context.
	SetCookies(ctx context.Context, cookies []Cookie) error

	// Kind names the backend ("chromedp" or "playwright").
	Kind() string

	// Close shuts the browser down.
	Close() error
}

// newDriver picks a backend for the config: an explicit Config.Driver
// wins; otherwise chromedp drives any Chrome found on the system and
// playwright's bundled Chromium covers machines without one.
func newDriver(cfg Config) (driver, error) {
	switch cfg.Driver {
	case DriverChromedp:
		return newChromedpDriver(cfg), nil
	case DriverPlaywright:
		return newPlaywrightDriver(cfg), nil
	case "":
	default:
		return nil, fmt.Errorf("unknown browser driver: %s", cfg.Driver)
	}

	if cfg.AttachURL != "" {
		return newChromedpDriver(cfg), nil
	}

	exe, err := FindChromeExecutable(cfg.ExecutablePath)
	if err == nil && exe != nil {
		logging.Debugf("[Browser] using %s at %s", exe.Kind, exe.Path)
		cfg.ExecutablePath = exe.Path
		return newChromedpDriver(cfg), nil
	}

	logging.Infof("[Browser] no local Chrome found, falling back to playwright")
	return newPlaywrightDriver(cfg), nil
}
