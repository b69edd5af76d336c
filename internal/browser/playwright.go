package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

var (
	pwOnce     sync.Once
	pwInstance *playwright.Playwright
	pwErr      error
)

// getPlaywright returns the process-wide Playwright instance, installing
// the bundled browsers on first use.
func getPlaywright() (*playwright.Playwright, error) {
	pwOnce.Do(func() {
		if err := playwright.Install(); err != nil {
			pwErr = fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}

		pw, err := playwright.Run()
		if err != nil {
			pwErr = fmt.Errorf("failed to start playwright: %w", err)
			return
		}
		pwInstance = pw
	})

	return pwInstance, pwErr
}

// playwrightDriver drives Playwright's bundled Chromium. It covers
// machines without a local Chrome install; playwright downloads its own
// browser on first run. Playwright calls carry their own timeouts, so
// the context parameters stay unused here.
type playwrightDriver struct {
	cfg Config

	pw         *playwright.Playwright
	browser    playwright.Browser
	browserCtx playwright.BrowserContext
	page       playwright.Page
}

func newPlaywrightDriver(cfg Config) *playwrightDriver {
	return &playwrightDriver{cfg: cfg}
}

func (d *playwrightDriver) Kind() string { return DriverPlaywright }

func (d *playwrightDriver) Start(ctx context.Context) error {
	pw, err := getPlaywright()
	if err != nil {
		return err
	}
	d.pw = pw

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.cfg.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-infobars",
			"--no-sandbox",
			"--disable-dev-shm-usage",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to launch chromium: %w", err)
	}
	d.browser = browser

	browserCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:   &playwright.Size{Width: viewportWidth, Height: viewportHeight},
		UserAgent:  playwright.String(d.cfg.UserAgent),
		Locale:     playwright.String("zh-CN"),
		TimezoneId: playwright.String("Asia/Shanghai"),
	})
	if err != nil {
		d.Close()
		return fmt.Errorf("failed to create browser context: %w", err)
	}
	d.browserCtx = browserCtx

	if err := browserCtx.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		d.Close()
		return fmt.Errorf("failed to install init script: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		d.Close()
		return fmt.Errorf("failed to create page: %w", err)
	}
	d.page = page

	return nil
}

func (d *playwrightDriver) timeoutMillis() float64 {
	return float64(d.cfg.Timeout.Milliseconds())
}

func (d *playwrightDriver) Navigate(_ context.Context, url string) error {
	if d.page == nil {
		return fmt.Errorf("browser not started")
	}
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(d.timeoutMillis()),
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (d *playwrightDriver) WaitReady(_ context.Context) error {
	if d.page == nil {
		return fmt.Errorf("browser not started")
	}
	return d.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(defaultWaitTimeout.Milliseconds())),
	})
}

func (d *playwrightDriver) WaitVisible(_ context.Context, selector string, timeout time.Duration) error {
	if d.page == nil {
		return fmt.Errorf("browser not started")
	}
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	_, err := d.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return err
}

func (d *playwrightDriver) URL(_ context.Context) (string, error) {
	if d.page == nil {
		return "", fmt.Errorf("browser not started")
	}
	return d.page.URL(), nil
}

func (d *playwrightDriver) Title(_ context.Context) (string, error) {
	if d.page == nil {
		return "", fmt.Errorf("browser not started")
	}
	return d.page.Title()
}

func (d *playwrightDriver) HTML(_ context.Context) (string, error) {
	if d.page == nil {
		return "", fmt.Errorf("browser not started")
	}
	return d.page.Content()
}

func (d *playwrightDriver) Click(_ context.Context, selector string) error {
	if d.page == nil {
		return fmt.Errorf("browser not started")
	}
	err := d.page.Locator(selector).Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(d.timeoutMillis()),
	})
	if err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (d *playwrightDriver) Fill(_ context.Context, selector, value string) error {
	if d.page == nil {
		return fmt.Errorf("browser not started")
	}
	err := d.page.Locator(selector).Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(d.timeoutMillis()),
	})
	if err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

func (d *playwrightDriver) Evaluate(_ context.Context, script string, out any) error {
	if d.page == nil {
		return fmt.Errorf("browser not started")
	}
	result, err := d.page.Evaluate(script)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	// Playwright hands back native Go values; round-trip through JSON
	// to fill the caller's typed result.
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (d *playwrightDriver) Screenshot(_ context.Context) ([]byte, error) {
	if d.page == nil {
		return nil, fmt.Errorf("browser not started")
	}
	return d.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(false),
	})
}

func (d *playwrightDriver) Cookies(_ context.Context) ([]Cookie, error) {
	if d.browserCtx == nil {
		return nil, fmt.Errorf("browser not started")
	}
	pwCookies, err := d.browserCtx.Cookies()
	if err != nil {
		return nil, fmt.Errorf("get cookies failed: %w", err)
	}

	cookies := make([]Cookie, len(pwCookies))
	for i, c := range pwCookies {
		sameSite := ""
		if c.SameSite != nil {
			sameSite = string(*c.SameSite)
		}
		cookies[i] = Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
			SameSite: sameSite,
		}
	}
	return cookies, nil
}

func (d *playwrightDriver) SetCookies(_ context.Context, cookies []Cookie) error {
	if d.browserCtx == nil {
		return fmt.Errorf("browser not started")
	}

	pwCookies := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" || (c.URL == "" && c.Domain == "") {
			continue
		}

		var sameSite *playwright.SameSiteAttribute
		switch c.SameSite {
		case "Strict":
			sameSite = playwright.SameSiteAttributeStrict
		case "None":
			sameSite = playwright.SameSiteAttributeNone
		case "Lax", "":
			sameSite = playwright.SameSiteAttributeLax
		}

		pwCookie := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			SameSite: sameSite,
		}
		if c.Domain != "" {
			pwCookie.Domain = playwright.String(c.Domain)
		}
		if c.Path != "" {
			pwCookie.Path = playwright.String(c.Path)
		}
		if c.URL != "" {
			pwCookie.URL = playwright.String(c.URL)
		}
		if c.Expires > 0 {
			pwCookie.Expires = playwright.Float(c.Expires)
		}
		if c.HTTPOnly {
			pwCookie.HttpOnly = playwright.Bool(c.HTTPOnly)
		}
		if c.Secure {
			pwCookie.Secure = playwright.Bool(c.Secure)
		}
		pwCookies = append(pwCookies, pwCookie)
	}

	if len(pwCookies) == 0 {
		return nil
	}
	if err := d.browserCtx.AddCookies(pwCookies); err != nil {
		return fmt.Errorf("set cookies failed: %w", err)
	}
	return nil
}

func (d *playwrightDriver) Close() error {
	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}
	if d.browserCtx != nil {
		_ = d.browserCtx.Close()
		d.browserCtx = nil
	}
	if d.browser != nil {
		_ = d.browser.Close()
		d.browser = nil
	}
	// The playwright runtime itself is shared; it stays up for the
	// next session.
	return nil
}
