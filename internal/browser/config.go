package browser

import (
	"path/filepath"
	"time"
)

// Config controls how the browser is launched and where it keeps state.
type Config struct {
	// Headless runs the browser without a window.
	Headless bool

	// Driver forces a specific driver ("chromedp" or "playwright").
	// Empty picks chromedp when a Chrome binary is found, playwright
	// otherwise.
	Driver string

	// ExecutablePath points at a specific Chrome binary. Empty triggers
	// per-platform detection.
	ExecutablePath string

	// AttachURL is a CDP HTTP endpoint (http://127.0.0.1:9222) of an
	// already-running Chrome to attach to instead of launching one.
	AttachURL string

	// DataDir is the root for browser state: profile, screenshots,
	// saved sessions.
	DataDir string

	// UserAgent overrides the default desktop Chrome user agent.
	UserAgent string

	// Timeout bounds each browser action.
	Timeout time.Duration

	// SessionTTL is how long saved login sessions stay valid.
	SessionTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultActionTimeout
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = SessionTTL
	}
	if c.DataDir == "" {
		c.DataDir = "browser"
	}
	return c
}

// ScreenshotsDir is where screenshot actions write PNG files.
func (c Config) ScreenshotsDir() string {
	return filepath.Join(c.DataDir, "screenshots")
}

// SessionsDir is where saved login sessions (storage state JSON) live.
func (c Config) SessionsDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

// ProfileDir is the persistent Chrome user data directory.
func (c Config) ProfileDir() string {
	return filepath.Join(c.DataDir, "profile")
}
