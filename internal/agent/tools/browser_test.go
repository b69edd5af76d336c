package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/philonis/neo/internal/agent/guard"
	"github.com/philonis/neo/internal/browser"
	"github.com/philonis/neo/internal/credential"
	"github.com/philonis/neo/internal/db"
)

func newBrowserToolForTest(t *testing.T, g *guard.Guard) *BrowserTool {
	t.Helper()
	ctrl := browser.New(browser.Config{Headless: true, DataDir: t.TempDir()}, nil, nil)
	return NewBrowserTool(g, ctrl, nil)
}

func execBrowser(t *testing.T, tool *BrowserTool, input string) *ToolResult {
	t.Helper()
	res, err := tool.Execute(context.Background(), json.RawMessage(input))
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestBrowserTool_InputValidation(t *testing.T) {
	tool := newBrowserToolForTest(t, nil)

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"missing action", `{}`, "缺少action参数"},
		{"navigate without url", `{"action":"navigate"}`, "navigate操作需要url参数"},
		{"click without target", `{"action":"click"}`, "click操作需要target参数"},
		{"fill without value", `{"action":"fill","target":"搜索框"}`, "fill操作需要target和value参数"},
		{"set_cookies without cookies", `{"action":"set_cookies"}`, "set_cookies操作需要cookies参数"},
		{"save_credentials partial", `{"action":"save_credentials","site_url":"https://zhihu.com"}`, "save_credentials操作需要site_url、username和password参数"},
		{"unknown action", `{"action":"teleport"}`, "未知操作: teleport"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := execBrowser(t, tool, tc.input)
			if !res.IsError {
				t.Fatalf("input %s accepted: %s", tc.input, res.Content)
			}
			if !strings.Contains(res.Content, tc.want) {
				t.Errorf("error = %q, want it to mention %q", res.Content, tc.want)
			}
		})
	}
}

func TestBrowserTool_MissingActionListsAvailable(t *testing.T) {
	tool := newBrowserToolForTest(t, nil)

	res := execBrowser(t, tool, `{}`)
	if !strings.Contains(res.Content, "available_actions") || !strings.Contains(res.Content, "navigate") {
		t.Errorf("expected available actions in %q", res.Content)
	}
}

func TestBrowserTool_ConfirmGate(t *testing.T) {
	// No auto-confirm and no confirm callback: a click must come back as a
	// pending confirmation instead of starting a browser.
	tool := newBrowserToolForTest(t, guard.New(guard.Options{}))

	res := execBrowser(t, tool, `{"action":"click","target":"提交订单"}`)
	if !res.IsError {
		t.Fatalf("click ran without confirmation: %s", res.Content)
	}

	var payload struct {
		Level                string `json:"level"`
		RequiresConfirmation bool   `json:"requires_confirmation"`
		ConfirmationMessage  string `json:"confirmation_message"`
	}
	if err := json.Unmarshal([]byte(res.Content), &payload); err != nil {
		t.Fatalf("result not JSON: %q", res.Content)
	}
	if payload.Level != "confirm" || !payload.RequiresConfirmation {
		t.Errorf("payload = %+v, want confirm level with requires_confirmation", payload)
	}
	if payload.ConfirmationMessage == "" {
		t.Error("confirmation message missing, the model cannot relay the prompt")
	}
}

func TestBrowserTool_ForbiddenTargetBlocked(t *testing.T) {
	// Even a safe navigate turns forbidden when the URL smells like a
	// payment flow, and auto-confirm cannot unlock it.
	tool := newBrowserToolForTest(t, guard.New(guard.Options{AutoConfirm: true}))

	res := execBrowser(t, tool, `{"action":"navigate","url":"https://shop.example.com/payment/checkout"}`)
	if !res.IsError {
		t.Fatalf("payment navigation allowed: %s", res.Content)
	}

	var payload struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal([]byte(res.Content), &payload); err != nil {
		t.Fatalf("result not JSON: %q", res.Content)
	}
	if payload.Level != "forbidden" {
		t.Errorf("level = %q, want forbidden", payload.Level)
	}
}

func TestBrowserTool_CloseWithoutBrowser(t *testing.T) {
	// close skips the guard and is a no-op when nothing is running.
	tool := newBrowserToolForTest(t, guard.New(guard.Options{}))

	res := execBrowser(t, tool, `{"action":"close"}`)
	if res.IsError {
		t.Fatalf("close failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "浏览器已关闭") {
		t.Errorf("close result = %q", res.Content)
	}
}

func TestBrowserTool_SaveAndListCredentials(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	creds := credential.NewManager(db.NewCredentialStore(store), bytes.Repeat([]byte{7}, 32))
	ctrl := browser.New(browser.Config{Headless: true, DataDir: t.TempDir()}, nil, creds)
	tool := NewBrowserTool(guard.New(guard.Options{}), ctrl, creds)

	res := execBrowser(t, tool, `{"action":"save_credentials","site_url":"https://www.zhihu.com/signin","username":"neo@example.com","password":"secret"}`)
	if res.IsError {
		t.Fatalf("save_credentials failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "凭证已保存") {
		t.Errorf("save result = %q", res.Content)
	}

	// Stored under the second-level domain, retrievable as a login pair.
	login, err := creds.GetLogin("zhihu")
	if err != nil || login == nil {
		t.Fatalf("stored login missing: %v", err)
	}
	if login.Username != "neo@example.com" || login.Password != "secret" {
		t.Errorf("login = %+v", login)
	}

	res = execBrowser(t, tool, `{"action":"list_sites"}`)
	if res.IsError {
		t.Fatalf("list_sites failed: %s", res.Content)
	}
	var listing struct {
		Sites []struct {
			Domain     string `json:"domain"`
			Username   string `json:"username"`
			HasSession bool   `json:"has_session"`
		} `json:"sites"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(res.Content), &listing); err != nil {
		t.Fatalf("listing not JSON: %q", res.Content)
	}
	if listing.Count != 1 || len(listing.Sites) != 1 {
		t.Fatalf("listing = %+v", listing)
	}
	if listing.Sites[0].Domain != "zhihu" || listing.Sites[0].Username != "neo@example.com" {
		t.Errorf("site = %+v", listing.Sites[0])
	}
	if listing.Sites[0].HasSession {
		t.Error("no session was saved, has_session must be false")
	}
}

func TestBrowserTool_ListSitesWithoutCredentialStore(t *testing.T) {
	tool := newBrowserToolForTest(t, nil)

	res := execBrowser(t, tool, `{"action":"list_sites"}`)
	if res.IsError {
		t.Fatalf("list_sites failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, `"count":0`) {
		t.Errorf("expected empty listing, got %q", res.Content)
	}
}

func TestBrowserTool_SaveCredentialsWithoutStore(t *testing.T) {
	tool := newBrowserToolForTest(t, nil)

	res := execBrowser(t, tool, `{"action":"save_credentials","site_url":"https://x.com","username":"u","password":"p"}`)
	if !res.IsError || !strings.Contains(res.Content, "凭证存储不可用") {
		t.Errorf("expected store-unavailable error, got %q", res.Content)
	}
}

func TestBrowserTool_RequiresApproval(t *testing.T) {
	if newBrowserToolForTest(t, nil).RequiresApproval() {
		t.Error("browser must not require blanket approval: the guard decides per action")
	}
}
