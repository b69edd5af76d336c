package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/philonis/neo/internal/logging"
)

// ErrNoCredentials reports a login attempt for a site with no stored
// credentials.
var ErrNoCredentials = errors.New("未找到保存的登录凭证")

// CredentialSource resolves stored login credentials by domain key.
type CredentialSource interface {
	Lookup(domain string) (username, password string, ok bool)
}

// Controller is the page-level browser: it lazily starts a driver on
// first use and layers content sanitization, element finding, login
// handling, and session persistence on top of it. All operations are
// serialized; the underlying browser holds a single page.
type Controller struct {
	cfg      Config
	sessions *Sessions
	creds    CredentialSource

	mu         sync.Mutex
	drv        driver
	currentURL string
}

// New builds a Controller. sessions and creds may be nil, which
// disables session persistence and automatic login respectively.
func New(cfg Config, sessions *Sessions, creds CredentialSource) *Controller {
	return &Controller{
		cfg:      cfg.withDefaults(),
		sessions: sessions,
		creds:    creds,
	}
}

// NavigateResult reports a page load.
type NavigateResult struct {
	URL                 string `json:"url"`
	Title               string `json:"title"`
	LoginRequired       bool   `json:"login_required"`
	HasSavedCredentials bool   `json:"has_saved_credentials,omitempty"`
}

// PageInfo is the current page with its text content.
type PageInfo struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Element is one interactive page element from a DOM scan.
type Element struct {
	Tag         string `json:"tag"`
	Type        string `json:"type,omitempty"`
	Text        string `json:"text"`
	ID          string `json:"id,omitempty"`
	ClassName   string `json:"className,omitempty"`
	Name        string `json:"name,omitempty"`
	Href        string `json:"href,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Index       int    `json:"index"`
	Visible     bool   `json:"visible"`
}

// DOMStructure is the interactive-element listing of the current page.
type DOMStructure struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Elements []Element `json:"interactive_elements"`
}

// ElementMatch is one hit from the text-content element scan. Ref is a
// data-neo-ref attribute value planted on the element so it can be
// clicked by selector.
type ElementMatch struct {
	Ref   string `json:"ref"`
	Tag   string `json:"tag"`
	Text  string `json:"text"`
	Index int    `json:"index"`
}

// ClickResult reports a click and the URL it landed on.
type ClickResult struct {
	Message string `json:"message"`
	NewURL  string `json:"new_url"`
}

// ExtractResult is extracted page text.
type ExtractResult struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// LoginCheck is the login-wall probe result. Field names match the
// page-side probe so the raw details can be passed through.
type LoginCheck struct {
	HasLoginForm         bool `json:"hasLoginForm"`
	HasLoginButton       bool `json:"hasLoginButton"`
	HasLoginFormElements bool `json:"hasLoginFormElements"`
	LikelyRequiresLogin  bool `json:"likelyRequiresLogin"`
}

// LoginResult reports a completed automatic login.
type LoginResult struct {
	Message  string `json:"message"`
	Username string `json:"username"`
	URL      string `json:"url"`
}

// ScreenshotResult reports a saved screenshot.
type ScreenshotResult struct {
	Message string `json:"message"`
	Path    string `json:"path"`
}

func (c *Controller) ensureStarted(ctx context.Context) error {
	if c.drv != nil {
		return nil
	}

	drv, err := newDriver(c.cfg)
	if err != nil {
		return err
	}
	if err := drv.Start(ctx); err != nil {
		return fmt.Errorf("浏览器初始化失败: %w", err)
	}
	c.drv = drv
	logging.Infof("[Browser] started %s driver (headless=%v)", drv.Kind(), c.cfg.Headless)

	if c.sessions != nil {
		if n, err := c.sessions.Sweep(); err != nil {
			logging.Warnf("[Browser] session sweep: %v", err)
		} else if n > 0 {
			logging.Debugf("[Browser] removed %d expired sessions", n)
		}
	}
	return nil
}

// Navigate loads a URL. Saved cookies for the site are restored before
// the load and saved localStorage after it, then the page is probed for
// a login wall.
func (c *Controller) Navigate(ctx context.Context, rawURL string) (*NavigateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureStarted(ctx); err != nil {
		return nil, err
	}

	domain := DomainKey(rawURL)
	state := c.loadSession(domain)
	if state != nil && len(state.Cookies) > 0 {
		if err := c.drv.SetCookies(ctx, state.Cookies); err != nil {
			logging.Warnf("[Browser] restore cookies for %s: %v", domain, err)
		} else {
			logging.Debugf("[Browser] restored %d cookies for %s", len(state.Cookies), domain)
		}
	}

	humanDelay(500, 1500)
	if err := c.drv.Navigate(ctx, rawURL); err != nil {
		return nil, err
	}
	humanDelay(300, 800)

	cur, err := c.drv.URL(ctx)
	if err != nil {
		return nil, err
	}
	c.currentURL = cur
	title, err := c.drv.Title(ctx)
	if err != nil {
		return nil, err
	}

	if state != nil {
		c.restoreLocalStorage(ctx, state)
	}

	res := &NavigateResult{URL: cur, Title: title}
	if check, err := c.checkLogin(ctx); err == nil {
		res.LoginRequired = check.LikelyRequiresLogin
	} else {
		logging.Debugf("[Browser] login probe: %v", err)
	}
	if c.creds != nil {
		if _, _, ok := c.creds.Lookup(domain); ok {
			res.HasSavedCredentials = true
		}
	}
	return res, nil
}

// Read returns the current page's URL, title, and sanitized text.
func (c *Controller) Read(ctx context.Context) (*PageInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureStarted(ctx); err != nil {
		return nil, err
	}

	html, err := c.drv.HTML(ctx)
	if err != nil {
		return nil, err
	}
	cur, err := c.drv.URL(ctx)
	if err != nil {
		return nil, err
	}
	title, err := c.drv.Title(ctx)
	if err != nil {
		return nil, err
	}
	return &PageInfo{
		URL:     cur,
		Title:   title,
		Content: sanitizeContent(html, maxContentLength),
	}, nil
}

// DOM lists the page's visible interactive elements.
func (c *Controller) DOM(ctx context.Context) (*DOMStructure, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureStarted(ctx); err != nil {
		return nil, err
	}
	return c.domStructure(ctx)
}

func (c *Controller) domStructure(ctx context.Context) (*DOMStructure, error) {
	var elements []Element
	if err := c.drv.Evaluate(ctx, domScript, &elements); err != nil {
		return nil, err
	}
	if len(elements) > maxInteractiveElements {
		elements = elements[:maxInteractiveElements]
	}

	cur, err := c.drv.URL(ctx)
	if err != nil {
		return nil, err
	}
	title, err := c.drv.Title(ctx)
	if err != nil {
		return nil, err
	}
	return &DOMStructure{URL: cur, Title: title, Elements: elements}, nil
}

// foundElement is a resolved click or fill target: either a CSS
// selector, or text-scan matches tagged with data-neo-ref attributes.
type foundElement struct {
	Selector string
	Matches  []ElementMatch
}

func (f *foundElement) selector() string {
	if f.Selector != "" {
		return f.Selector
	}
	return fmt.Sprintf("[data-neo-ref='%s']", f.Matches[0].Ref)
}

// findElement resolves a target description. The description is tried
// as a CSS selector first, then against placeholder/aria-label/title
// attributes, then against element text content. Returns nil when
// nothing matches.
func (c *Controller) findElement(ctx context.Context, description string) (*foundElement, error) {
	candidates := []string{
		description,
		fmt.Sprintf(`[placeholder*=%s]`, jsAttr(description)),
		fmt.Sprintf(`[aria-label*=%s]`, jsAttr(description)),
		fmt.Sprintf(`[title*=%s]`, jsAttr(description)),
	}
	for _, sel := range candidates {
		var ok bool
		if err := c.drv.Evaluate(ctx, fmt.Sprintf(selectorProbeTemplate, jsString(sel)), &ok); err != nil {
			return nil, err
		}
		if ok {
			return &foundElement{Selector: sel}, nil
		}
	}

	var matches []ElementMatch
	script := fmt.Sprintf(findScriptTemplate, maxFindCandidates, jsString(strings.ToLower(description)))
	if err := c.drv.Evaluate(ctx, script, &matches); err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &foundElement{Matches: matches}, nil
}

// jsAttr quotes a value for use inside a CSS attribute selector.
func jsAttr(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// Click finds an element by description and clicks it.
func (c *Controller) Click(ctx context.Context, target string) (*ClickResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureStarted(ctx); err != nil {
		return nil, err
	}
	return c.clickDescribed(ctx, target)
}

func (c *Controller) clickDescribed(ctx context.Context, target string) (*ClickResult, error) {
	found, err := c.findElement(ctx, target)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("未找到元素: %s", target)
	}

	humanDelay(300, 800)
	if err := c.drv.Click(ctx, found.selector()); err != nil {
		return nil, err
	}
	humanDelay(500, 1000)

	newURL, err := c.drv.URL(ctx)
	if err != nil {
		return nil, err
	}
	c.currentURL = newURL
	return &ClickResult{
		Message: "已点击: " + target,
		NewURL:  newURL,
	}, nil
}

// Fill finds an input by description and types a value into it.
func (c *Controller) Fill(ctx context.Context, target, value string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureStarted(ctx); err != nil {
		return "", err
	}
	if err := c.fillDescribed(ctx, target, value); err != nil {
		return "", err
	}
	return "已输入内容到: " + target, nil
}

func (c *Controller) fillDescribed(ctx context.Context, target, value string) error {
	found, err := c.findElement(ctx, target)
	if err != nil {
		return err
	}
	if found == nil {
		return fmt.Errorf("未找到输入框: %s", target)
	}

	humanDelay(200, 500)
	if err := c.drv.Fill(ctx, found.selector(), value); err != nil {
		return err
	}
	humanDelay(100, 300)
	return nil
}

// Scroll scrolls the page up or down by amount pixels. amount <= 0
// uses the default step.
func (c *Controller) Scroll(ctx context.Context, direction string, amount int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureStarted(ctx); err != nil {
		return "", err
	}

	if amount <= 0 {
		amount = defaultScrollAmount
	}
	if direction != "up" {
		direction = "down"
	}
	dy := amount
	if direction == "up" {
		dy = -amount
	}
	if err := c.drv.Evaluate(ctx, fmt.Sprintf(scrollTemplate, 0, dy), nil); err != nil {
		return "", err
	}
	humanDelay(300, 600)
	return fmt.Sprintf("已滚动 %s %dpx", direction, amount), nil
}

// Screenshot captures the viewport into the screenshots directory.
// name defaults to a timestamp.
func (c *Controller) Screenshot(ctx context.Context, name string) (*ScreenshotResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureStarted(ctx); err != nil {
		return nil, err
	}

	data, err := c.drv.Screenshot(ctx)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = "screenshot_" + time.Now().Format("20060102_150405")
	}
	dir := c.cfg.ScreenshotsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, err
	}
	return &ScreenshotResult{Message: "截图成功", Path: path}, nil
}

// Extract returns the text of a selector, or the whole page's
// sanitized text when selector is empty.
func (c *Controller) Extract(ctx context.Context, selector string) (*ExtractResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureStarted(ctx); err != nil {
		return nil, err
	}

	cur, err := c.drv.URL(ctx)
	if err != nil {
		return nil, err
	}

	if selector != "" {
		var text *string
		if err := c.drv.Evaluate(ctx, fmt.Sprintf(extractTextTemplate, jsString(selector)), &text); err != nil {
			return nil, err
		}
		if text == nil {
			return nil, fmt.Errorf("未找到选择器: %s", selector)
		}
		return &ExtractResult{Text: *text, URL: cur}, nil
	}

	html, err := c.drv.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return &ExtractResult{Text: sanitizeContent(html, maxExtractLength), URL: cur}, nil
}

// Wait blocks until a selector is visible, or until the page finishes
// loading when selector is empty.
func (c *Controller) Wait(ctx context.Context, selector string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureStarted(ctx); err != nil {
		return err
	}

	if selector != "" {
		return c.drv.WaitVisible(ctx, selector, defaultWaitTimeout)
	}
	return c.drv.WaitReady(ctx)
}

// CheckLogin probes the current page for a login wall.
func (c *Controller) CheckLogin(ctx context.Context) (*LoginCheck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureStarted(ctx); err != nil {
		return nil, err
	}
	return c.checkLogin(ctx)
}

func (c *Controller) checkLogin(ctx context.Context) (*LoginCheck, error) {
	var check LoginCheck
	if err := c.drv.Evaluate(ctx, loginProbeScript, &check); err != nil {
		return nil, err
	}
	return &check, nil
}

// Login fills the current page's login form with stored credentials
// for the site, submits it, and saves the resulting session. Returns
// ErrNoCredentials when nothing is stored for the site's domain.
func (c *Controller) Login(ctx context.Context, siteURL string) (*LoginResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureStarted(ctx); err != nil {
		return nil, err
	}

	cur := c.currentURL
	if cur == "" {
		cur = siteURL
	}
	domain := DomainKey(cur)

	if c.creds == nil {
		return nil, ErrNoCredentials
	}
	username, password, ok := c.creds.Lookup(domain)
	if !ok {
		return nil, ErrNoCredentials
	}

	dom, err := c.domStructure(ctx)
	if err != nil {
		return nil, fmt.Errorf("登录失败: %w", err)
	}

	var usernameField, passwordField, loginButton *Element
	for i := range dom.Elements {
		el := &dom.Elements[i]
		elType := strings.ToLower(el.Type)
		text := strings.ToLower(el.Text)
		name := strings.ToLower(el.Name)
		placeholder := strings.ToLower(el.Placeholder)

		if el.Tag == "input" {
			switch {
			case elType == "password":
				passwordField = el
			case elType == "text" || elType == "email" ||
				strings.Contains(name, "user") || strings.Contains(name, "email") ||
				strings.Contains(placeholder, "email"):
				usernameField = el
			}
		}
		if el.Tag == "button" || elType == "submit" {
			if strings.Contains(text, "登录") || strings.Contains(text, "login") || strings.Contains(text, "sign") {
				loginButton = el
			}
		}
	}

	if usernameField != nil {
		sel := fmt.Sprintf("input[type='%s']", valueOr(usernameField.Type, "text"))
		if usernameField.Name != "" {
			sel = fmt.Sprintf("input[name='%s']", usernameField.Name)
		}
		if err := c.fillDescribed(ctx, sel, username); err != nil {
			return nil, fmt.Errorf("登录失败: %w", err)
		}
	}
	if passwordField != nil {
		if err := c.fillDescribed(ctx, "input[type='password']", password); err != nil {
			return nil, fmt.Errorf("登录失败: %w", err)
		}
	}
	if loginButton != nil {
		if _, err := c.clickDescribed(ctx, valueOr(strings.TrimSpace(loginButton.Text), "登录")); err != nil {
			return nil, fmt.Errorf("登录失败: %w", err)
		}
	}

	humanDelay(1000, 2000)

	if c.sessions != nil {
		if err := c.saveSession(ctx, domain); err != nil {
			logging.Warnf("[Browser] save session for %s: %v", domain, err)
		}
	}

	landed, err := c.drv.URL(ctx)
	if err == nil {
		c.currentURL = landed
	}
	return &LoginResult{Message: "登录成功", Username: username, URL: c.currentURL}, nil
}

// Cookies returns the browser's current cookies.
func (c *Controller) Cookies(ctx context.Context) ([]Cookie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureStarted(ctx); err != nil {
		return nil, err
	}
	return c.drv.Cookies(ctx)
}

// SetCookies adds cookies to the browser.
func (c *Controller) SetCookies(ctx context.Context, cookies []Cookie) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureStarted(ctx); err != nil {
		return err
	}
	return c.drv.SetCookies(ctx, cookies)
}

// SaveSession captures the current cookies and localStorage as the
// saved session for a site.
func (c *Controller) SaveSession(ctx context.Context, siteURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureStarted(ctx); err != nil {
		return err
	}
	if c.sessions == nil {
		return fmt.Errorf("session store not configured")
	}
	return c.saveSession(ctx, DomainKey(siteURL))
}

// Sessions exposes the saved-session store, or nil when persistence is
// disabled.
func (c *Controller) Sessions() *Sessions { return c.sessions }

// CurrentURL is the URL of the last completed navigation.
func (c *Controller) CurrentURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentURL
}

// Started reports whether a browser is running.
func (c *Controller) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drv != nil
}

// Close shuts the browser down. The next operation starts a fresh one.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drv == nil {
		return nil
	}
	err := c.drv.Close()
	c.drv = nil
	c.currentURL = ""
	logging.Infof("[Browser] closed")
	return err
}

func (c *Controller) loadSession(domain string) *StorageState {
	if c.sessions == nil {
		return nil
	}
	state, err := c.sessions.Load(domain)
	if err != nil {
		logging.Warnf("[Browser] load session for %s: %v", domain, err)
		return nil
	}
	return state
}

func (c *Controller) restoreLocalStorage(ctx context.Context, state *StorageState) {
	var origin string
	if err := c.drv.Evaluate(ctx, originScript, &origin); err != nil || origin == "" {
		return
	}
	items := state.OriginStorage(origin)
	if len(items) == 0 {
		return
	}
	payload, err := jsonArray(items)
	if err != nil {
		return
	}
	if err := c.drv.Evaluate(ctx, fmt.Sprintf(localStorageRestoreTemplate, payload), nil); err != nil {
		logging.Warnf("[Browser] restore localStorage for %s: %v", origin, err)
		return
	}
	logging.Debugf("[Browser] restored %d localStorage entries for %s", len(items), origin)
}

func (c *Controller) saveSession(ctx context.Context, domain string) error {
	cookies, err := c.drv.Cookies(ctx)
	if err != nil {
		return err
	}
	state := &StorageState{Cookies: cookies}

	var origin string
	if err := c.drv.Evaluate(ctx, originScript, &origin); err == nil && origin != "" {
		var items []StorageItem
		if err := c.drv.Evaluate(ctx, localStorageDumpScript, &items); err == nil && len(items) > 0 {
			state.Origins = append(state.Origins, OriginState{Origin: origin, LocalStorage: items})
		}
	}

	path, err := c.sessions.Save(domain, state)
	if err != nil {
		return err
	}
	logging.Infof("[Browser] saved session for %s (%d cookies) to %s", domain, len(cookies), path)
	return nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// humanDelay sleeps a random interval in milliseconds to pace actions
// like a person would. Overridable so tests run without the pauses.
var humanDelay = func(minMs, maxMs int) {
	time.Sleep(time.Duration(minMs+rand.IntN(maxMs-minMs+1)) * time.Millisecond)
}
