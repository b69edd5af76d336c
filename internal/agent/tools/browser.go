package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/philonis/neo/internal/agent/guard"
	"github.com/philonis/neo/internal/browser"
	"github.com/philonis/neo/internal/credential"
)

// BrowserTool lets the model use a real browser: navigate, read pages,
// interact with elements, and log into sites with stored credentials.
// The browser starts lazily on the first action and stays up until a
// close action or shutdown.
type BrowserTool struct {
	guard *guard.Guard
	ctrl  *browser.Controller
	creds *credential.Manager
}

// NewBrowserTool wires the browser controller to the guard and the
// credential store. creds may be nil, which disables save_credentials
// and automatic login.
func NewBrowserTool(g *guard.Guard, ctrl *browser.Controller, creds *credential.Manager) *BrowserTool {
	return &BrowserTool{guard: g, ctrl: ctrl, creds: creds}
}

func (t *BrowserTool) Name() string { return "browser" }

func (t *BrowserTool) Description() string {
	return "像真人一样使用浏览器访问网站：导航、读取页面、点击元素、填写表单、自动登录、截图。" +
		" Browse the web like a human: navigate, read pages, click elements, fill forms, log in with saved credentials, take screenshots." +
		" 适用于没有API的网站、需要登录的内容和动态渲染的页面。敏感操作需要用户确认。"
}

func (t *BrowserTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["navigate", "read", "click", "fill", "login", "scroll", "screenshot", "extract", "get_dom", "wait", "check_login", "get_cookies", "set_cookies", "save_credentials", "list_sites", "close"],
				"description": "要执行的操作类型"
			},
			"url": {"type": "string", "description": "目标URL（用于 navigate / login 操作）"},
			"target": {"type": "string", "description": "目标元素描述或CSS选择器（用于 click / fill 操作）"},
			"value": {"type": "string", "description": "输入值（用于 fill 操作）"},
			"selector": {"type": "string", "description": "CSS选择器（用于 extract / wait 操作）"},
			"direction": {"type": "string", "enum": ["up", "down"], "description": "滚动方向（默认 down）"},
			"amount": {"type": "integer", "description": "滚动像素数（默认 300）"},
			"name": {"type": "string", "description": "截图文件名（用于 screenshot，默认时间戳）"},
			"site_url": {"type": "string", "description": "网站URL（用于 save_credentials）"},
			"username": {"type": "string", "description": "用户名或邮箱（用于 save_credentials）"},
			"password": {"type": "string", "description": "密码（用于 save_credentials）"},
			"cookies": {"type": "array", "items": {"type": "object"}, "description": "Cookie列表（用于 set_cookies）"}
		},
		"required": ["action"]
	}`)
}

// RequiresApproval is false: the guard classifies each action individually
// inside Execute, so safe reads never prompt.
func (t *BrowserTool) RequiresApproval() bool { return false }

type browserInput struct {
	Action    string           `json:"action"`
	URL       string           `json:"url"`
	Target    string           `json:"target"`
	Value     string           `json:"value"`
	Selector  string           `json:"selector"`
	Direction string           `json:"direction"`
	Amount    int              `json:"amount"`
	Name      string           `json:"name"`
	SiteURL   string           `json:"site_url"`
	Username  string           `json:"username"`
	Password  string           `json:"password"`
	Cookies   []browser.Cookie `json:"cookies"`
}

var browserActions = []string{
	"navigate", "read", "click", "fill", "login",
	"scroll", "screenshot", "extract", "get_dom", "wait",
	"check_login", "get_cookies", "set_cookies",
	"save_credentials", "list_sites", "close",
}

func (t *BrowserTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var in browserInput
	if err := json.Unmarshal(input, &in); err != nil {
		return browserError(fmt.Sprintf("无法解析参数: %v", err)), nil
	}

	if in.Action == "" {
		return browserResult(map[string]any{
			"success":           false,
			"error":             "缺少action参数",
			"available_actions": browserActions,
		}), nil
	}
	if reason := validateBrowserInput(in); reason != "" {
		return browserError(reason), nil
	}

	// close and the credential actions never touch a page, so they skip
	// the operation guard. Passwords in particular must stay out of the
	// audit trail.
	switch in.Action {
	case "close":
		return t.close()
	case "save_credentials":
		return t.saveCredentials(in.SiteURL, in.Username, in.Password)
	case "list_sites":
		return t.listSites()
	}

	if t.guard != nil {
		target := in.Target
		if target == "" {
			target = in.URL
		}
		if target == "" {
			target = in.Selector
		}
		if d := t.guard.CheckOperation(in.Action, target, in.Value); !d.Allowed {
			return blockedResult(d), nil
		}
	}

	switch in.Action {
	case "navigate":
		return t.navigate(ctx, in.URL)
	case "read":
		return t.read(ctx)
	case "get_dom":
		return t.getDOM(ctx)
	case "click":
		return t.click(ctx, in.Target)
	case "fill":
		return t.fill(ctx, in.Target, in.Value)
	case "login":
		return t.login(ctx, in.URL)
	case "scroll":
		return t.scroll(ctx, in.Direction, in.Amount)
	case "screenshot":
		return t.screenshot(ctx, in.Name)
	case "extract":
		return t.extract(ctx, in.Selector)
	case "wait":
		return t.wait(ctx, in.Selector)
	case "check_login":
		return t.checkLogin(ctx)
	case "get_cookies":
		return t.getCookies(ctx)
	case "set_cookies":
		return t.setCookies(ctx, in.Cookies)
	default:
		return browserError(fmt.Sprintf("未知操作: %s", in.Action)), nil
	}
}

// validateBrowserInput enforces per-action required parameters before the
// browser starts. Returns "" when the input is complete.
func validateBrowserInput(in browserInput) string {
	switch in.Action {
	case "navigate":
		if in.URL == "" {
			return "navigate操作需要url参数"
		}
	case "click":
		if in.Target == "" {
			return "click操作需要target参数"
		}
	case "fill":
		if in.Target == "" || in.Value == "" {
			return "fill操作需要target和value参数"
		}
	case "set_cookies":
		if len(in.Cookies) == 0 {
			return "set_cookies操作需要cookies参数"
		}
	case "save_credentials":
		if in.SiteURL == "" || in.Username == "" || in.Password == "" {
			return "save_credentials操作需要site_url、username和password参数"
		}
	case "read", "get_dom", "login", "scroll", "screenshot",
		"extract", "wait", "check_login", "get_cookies", "list_sites", "close":
	default:
		return fmt.Sprintf("未知操作: %s", in.Action)
	}
	return ""
}

func (t *BrowserTool) navigate(ctx context.Context, url string) (*ToolResult, error) {
	res, err := t.ctrl.Navigate(ctx, url)
	if err != nil {
		return browserError(err.Error()), nil
	}
	payload := map[string]any{
		"success":        true,
		"url":            res.URL,
		"title":          res.Title,
		"login_required": res.LoginRequired,
	}
	if res.HasSavedCredentials {
		payload["has_saved_credentials"] = true
	}
	return browserResult(payload), nil
}

func (t *BrowserTool) read(ctx context.Context) (*ToolResult, error) {
	info, err := t.ctrl.Read(ctx)
	if err != nil {
		return browserError(err.Error()), nil
	}
	return browserResult(map[string]any{
		"success": true,
		"url":     info.URL,
		"title":   info.Title,
		"content": info.Content,
	}), nil
}

func (t *BrowserTool) getDOM(ctx context.Context) (*ToolResult, error) {
	dom, err := t.ctrl.DOM(ctx)
	if err != nil {
		return browserError(err.Error()), nil
	}
	return browserResult(map[string]any{
		"success":              true,
		"url":                  dom.URL,
		"title":                dom.Title,
		"interactive_elements": dom.Elements,
	}), nil
}

func (t *BrowserTool) click(ctx context.Context, target string) (*ToolResult, error) {
	res, err := t.ctrl.Click(ctx, target)
	if err != nil {
		return browserError(err.Error()), nil
	}
	return browserResult(map[string]any{
		"success": true,
		"message": res.Message,
		"new_url": res.NewURL,
	}), nil
}

func (t *BrowserTool) fill(ctx context.Context, target, value string) (*ToolResult, error) {
	msg, err := t.ctrl.Fill(ctx, target, value)
	if err != nil {
		return browserError(err.Error()), nil
	}
	return browserResult(map[string]any{"success": true, "message": msg}), nil
}

func (t *BrowserTool) login(ctx context.Context, url string) (*ToolResult, error) {
	res, err := t.ctrl.Login(ctx, url)
	if errors.Is(err, browser.ErrNoCredentials) {
		return browserResult(map[string]any{
			"success": false,
			"error":   err.Error(),
			"hint":    "请先使用 save_credentials 操作保存凭证，或在fill操作中手动输入用户名密码",
		}), nil
	}
	if err != nil {
		return browserError(err.Error()), nil
	}
	return browserResult(map[string]any{
		"success":  true,
		"message":  res.Message,
		"username": res.Username,
		"url":      res.URL,
	}), nil
}

func (t *BrowserTool) scroll(ctx context.Context, direction string, amount int) (*ToolResult, error) {
	msg, err := t.ctrl.Scroll(ctx, direction, amount)
	if err != nil {
		return browserError(err.Error()), nil
	}
	return browserResult(map[string]any{"success": true, "message": msg}), nil
}

func (t *BrowserTool) screenshot(ctx context.Context, name string) (*ToolResult, error) {
	res, err := t.ctrl.Screenshot(ctx, name)
	if err != nil {
		return browserError(err.Error()), nil
	}
	return browserResult(map[string]any{
		"success": true,
		"message": res.Message,
		"path":    res.Path,
	}), nil
}

func (t *BrowserTool) extract(ctx context.Context, selector string) (*ToolResult, error) {
	res, err := t.ctrl.Extract(ctx, selector)
	if err != nil {
		return browserError(err.Error()), nil
	}
	return browserResult(map[string]any{
		"success": true,
		"text":    res.Text,
		"url":     res.URL,
	}), nil
}

func (t *BrowserTool) wait(ctx context.Context, selector string) (*ToolResult, error) {
	if err := t.ctrl.Wait(ctx, selector); err != nil {
		return browserError(err.Error()), nil
	}
	return browserResult(map[string]any{"success": true, "message": "等待完成"}), nil
}

func (t *BrowserTool) checkLogin(ctx context.Context) (*ToolResult, error) {
	check, err := t.ctrl.CheckLogin(ctx)
	if err != nil {
		return browserError(err.Error()), nil
	}
	return browserResult(map[string]any{
		"success":        true,
		"requires_login": check.LikelyRequiresLogin,
		"details":        check,
	}), nil
}

func (t *BrowserTool) getCookies(ctx context.Context) (*ToolResult, error) {
	cookies, err := t.ctrl.Cookies(ctx)
	if err != nil {
		return browserError(err.Error()), nil
	}
	return browserResult(map[string]any{
		"success": true,
		"cookies": cookies,
		"count":   len(cookies),
	}), nil
}

func (t *BrowserTool) setCookies(ctx context.Context, cookies []browser.Cookie) (*ToolResult, error) {
	if err := t.ctrl.SetCookies(ctx, cookies); err != nil {
		return browserError(err.Error()), nil
	}
	return browserResult(map[string]any{
		"success": true,
		"message": fmt.Sprintf("已设置 %d 个Cookie", len(cookies)),
	}), nil
}

func (t *BrowserTool) saveCredentials(siteURL, username, password string) (*ToolResult, error) {
	if t.creds == nil {
		return browserError("凭证存储不可用"), nil
	}
	domain := browser.DomainKey(siteURL)
	if err := t.creds.SetLogin(domain, username, password); err != nil {
		return browserError(err.Error()), nil
	}
	return browserResult(map[string]any{
		"success":  true,
		"message":  "凭证已保存: " + siteURL,
		"username": username,
	}), nil
}

func (t *BrowserTool) listSites() (*ToolResult, error) {
	loggedIn := map[string]bool{}
	if sessions := t.ctrl.Sessions(); sessions != nil {
		list, err := sessions.List()
		if err != nil {
			return browserError(err.Error()), nil
		}
		for _, s := range list {
			if !s.Expired() {
				loggedIn[s.Domain] = true
			}
		}
	}

	sites := []map[string]any{}
	if t.creds != nil {
		names, err := t.creds.List()
		if err != nil {
			return browserError(err.Error()), nil
		}
		// The credential store also holds generic secrets; only login
		// pairs count as sites.
		for _, name := range names {
			login, err := t.creds.GetLogin(name)
			if err != nil || login == nil {
				continue
			}
			sites = append(sites, map[string]any{
				"domain":      name,
				"username":    login.Username,
				"has_session": loggedIn[name],
			})
			delete(loggedIn, name)
		}
	}
	// Sessions saved without stored credentials still count as sites.
	for domain := range loggedIn {
		sites = append(sites, map[string]any{"domain": domain, "has_session": true})
	}

	return browserResult(map[string]any{
		"success": true,
		"sites":   sites,
		"count":   len(sites),
	}), nil
}

func (t *BrowserTool) close() (*ToolResult, error) {
	if err := t.ctrl.Close(); err != nil {
		return browserError(err.Error()), nil
	}
	return browserResult(map[string]any{"success": true, "message": "浏览器已关闭"}), nil
}

func browserResult(payload map[string]any) *ToolResult {
	data, err := json.Marshal(payload)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("%v", payload)}
	}
	isErr := false
	if ok, has := payload["success"].(bool); has && !ok {
		isErr = true
	}
	return &ToolResult{Content: string(data), IsError: isErr}
}

func browserError(msg string) *ToolResult {
	return browserResult(map[string]any{"success": false, "error": msg})
}
