package browser

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpstorage "github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/philonis/neo/internal/logging"
)

// chromedpDriver controls a locally installed Chrome over the DevTools
// protocol. It either launches its own instance with a persistent
// profile or attaches to one already running with a debugging port.
type chromedpDriver struct {
	cfg Config

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func newChromedpDriver(cfg Config) *chromedpDriver {
	return &chromedpDriver{cfg: cfg}
}

func (d *chromedpDriver) Kind() string { return DriverChromedp }

func (d *chromedpDriver) Start(ctx context.Context) error {
	var allocCtx context.Context

	if d.cfg.AttachURL != "" {
		wsURL, err := GetChromeWebSocketURL(d.cfg.AttachURL, 3*time.Second)
		if err != nil {
			return fmt.Errorf("browser at %s not reachable: %w", d.cfg.AttachURL, err)
		}
		allocCtx, d.allocCancel = chromedp.NewRemoteAllocator(context.Background(), wsURL)
		logging.Infof("[Browser] attached to running Chrome at %s", d.cfg.AttachURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", d.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.Flag("disable-infobars", true),
			chromedp.UserAgent(d.cfg.UserAgent),
			chromedp.WindowSize(viewportWidth, viewportHeight),
		)
		if d.cfg.ExecutablePath != "" {
			opts = append(opts, chromedp.ExecPath(d.cfg.ExecutablePath))
		}
		profileDir := d.cfg.ProfileDir()
		if err := os.MkdirAll(profileDir, 0700); err != nil {
			return fmt.Errorf("failed to create profile dir: %w", err)
		}
		opts = append(opts, chromedp.UserDataDir(profileDir))

		allocCtx, d.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	d.browserCtx, d.browserCancel = chromedp.NewContext(allocCtx)

	// First Run launches the browser. Install the stealth script before
	// any page loads so navigator.webdriver never leaks.
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	}))
	if err != nil {
		d.Close()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	// Pin the viewport only on browsers we launched; attached ones
	// belong to the user.
	if d.cfg.AttachURL == "" {
		if err := d.run(ctx, chromedp.EmulateViewport(viewportWidth, viewportHeight)); err != nil {
			logging.Warnf("[Browser] viewport emulation failed: %v", err)
		}
	}

	return nil
}

// run executes actions against the persistent tab with the configured
// timeout, honoring caller cancellation without tearing the tab down.
func (d *chromedpDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	return d.runWithTimeout(ctx, d.cfg.Timeout, actions...)
}

func (d *chromedpDriver) runWithTimeout(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if d.browserCtx == nil {
		return fmt.Errorf("browser not started")
	}
	runCtx, cancel := context.WithTimeout(d.browserCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (d *chromedpDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (d *chromedpDriver) WaitReady(ctx context.Context) error {
	return d.runWithTimeout(ctx, defaultWaitTimeout, chromedp.WaitReady("body", chromedp.ByQuery))
}

func (d *chromedpDriver) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	return d.runWithTimeout(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (d *chromedpDriver) URL(ctx context.Context) (string, error) {
	var url string
	err := d.run(ctx, chromedp.Location(&url))
	return url, err
}

func (d *chromedpDriver) Title(ctx context.Context) (string, error) {
	var title string
	err := d.run(ctx, chromedp.Title(&title))
	return title, err
}

func (d *chromedpDriver) HTML(ctx context.Context) (string, error) {
	var html string
	err := d.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (d *chromedpDriver) Click(ctx context.Context, selector string) error {
	return d.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

func (d *chromedpDriver) Fill(ctx context.Context, selector, value string) error {
	return d.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (d *chromedpDriver) Evaluate(ctx context.Context, script string, out any) error {
	return d.run(ctx, chromedp.Evaluate(script, out))
}

func (d *chromedpDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := d.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (d *chromedpDriver) Cookies(ctx context.Context) ([]Cookie, error) {
	var cookies []Cookie
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		netCookies, err := cdpstorage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		cookies = fromNetworkCookies(netCookies)
		return nil
	}))
	return cookies, err
}

func (d *chromedpDriver) SetCookies(ctx context.Context, cookies []Cookie) error {
	params := toCookieParams(cookies)
	if len(params) == 0 {
		return nil
	}
	return d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdpstorage.SetCookies(params).Do(ctx)
	}))
}

func (d *chromedpDriver) Close() error {
	if d.browserCancel != nil {
		d.browserCancel()
		d.browserCancel = nil
	}
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
	d.browserCtx = nil
	return nil
}

func fromNetworkCookies(in []*network.Cookie) []Cookie {
	cookies := make([]Cookie, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: sameSiteName(c.SameSite),
		})
	}
	return cookies
}

func toCookieParams(in []Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(in))
	for _, c := range in {
		if c.Name == "" || (c.URL == "" && c.Domain == "") {
			continue
		}
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			URL:      c.URL,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		switch c.SameSite {
		case "Strict":
			p.SameSite = network.CookieSameSiteStrict
		case "None":
			p.SameSite = network.CookieSameSiteNone
		case "Lax":
			p.SameSite = network.CookieSameSiteLax
		}
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &exp
		}
		params = append(params, p)
	}
	return params
}

func sameSiteName(s network.CookieSameSite) string {
	switch s {
	case network.CookieSameSiteStrict:
		return "Strict"
	case network.CookieSameSiteLax:
		return "Lax"
	case network.CookieSameSiteNone:
		return "None"
	default:
		return ""
	}
}
