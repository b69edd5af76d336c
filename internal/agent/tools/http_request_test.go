package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func execHTTP(t *testing.T, tool *HTTPTool, input string) map[string]any {
	t.Helper()
	res, err := tool.Execute(context.Background(), json.RawMessage(input))
	if err != nil {
		t.Fatal(err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(res.Content), &payload); err != nil {
		t.Fatalf("result not JSON: %q", res.Content)
	}
	return payload
}

func TestHTTPTool_JSONPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"city":"Beijing","temp":21}`)
	}))
	defer srv.Close()

	tool := &HTTPTool{client: srv.Client()}
	payload := execHTTP(t, tool, fmt.Sprintf(`{"url":%q}`, srv.URL))

	if payload["status"] != "success" {
		t.Fatalf("status = %v", payload["status"])
	}
	data, ok := payload["data"].(map[string]any)
	if !ok {
		t.Fatalf("data not passed through as JSON: %v", payload["data"])
	}
	if data["city"] != "Beijing" {
		t.Errorf("data.city = %v", data["city"])
	}
}

func TestHTTPTool_HTMLSanitized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><script>evil()</script><h2>新闻标题</h2><p>正文内容</p></body></html>`)
	}))
	defer srv.Close()

	tool := &HTTPTool{client: srv.Client()}
	payload := execHTTP(t, tool, fmt.Sprintf(`{"url":%q}`, srv.URL))

	content, _ := payload["content"].(string)
	if !strings.Contains(content, "## 新闻标题") || !strings.Contains(content, "正文内容") {
		t.Errorf("content = %q", content)
	}
	if strings.Contains(content, "evil()") {
		t.Errorf("script leaked into content: %q", content)
	}
	if payload["status_code"] != float64(200) {
		t.Errorf("status_code = %v", payload["status_code"])
	}
}

func TestHTTPTool_TruncatesLongPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, strings.Repeat("a", maxFetchChars+500))
	}))
	defer srv.Close()

	tool := &HTTPTool{client: srv.Client()}
	payload := execHTTP(t, tool, fmt.Sprintf(`{"url":%q}`, srv.URL))

	content, _ := payload["content"].(string)
	if !strings.HasSuffix(content, "(content truncated)") {
		t.Errorf("long page not truncated, len=%d", len(content))
	}
}

func TestHTTPTool_PostSendsJSONBody(t *testing.T) {
	var gotBody string
	var gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotCT = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	tool := &HTTPTool{client: srv.Client()}
	payload := execHTTP(t, tool, fmt.Sprintf(`{"url":%q,"method":"post","data":{"name":"neo"}}`, srv.URL))

	if payload["status"] != "success" {
		t.Fatalf("status = %v", payload["status"])
	}
	if gotCT != "application/json" {
		t.Errorf("content type sent = %q", gotCT)
	}
	if gotBody != `{"name":"neo"}` {
		t.Errorf("body sent = %q", gotBody)
	}
}

func TestHTTPTool_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	tool := &HTTPTool{client: srv.Client()}
	res, err := tool.Execute(context.Background(), json.RawMessage(fmt.Sprintf(`{"url":%q}`, srv.URL)))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.Content, "404") {
		t.Errorf("404 response = %+v", res)
	}
}

func TestHTTPTool_InputValidation(t *testing.T) {
	tool := NewHTTPTool()

	cases := []struct {
		input string
		want  string
	}{
		{`{}`, "URL 不能为空"},
		{`{"url":"ftp://files.example.com"}`, "仅支持 http/https"},
		{`{"url":"https://example.com","method":"DELETE"}`, "不支持的 HTTP 方法"},
	}
	for _, tc := range cases {
		res, err := tool.Execute(context.Background(), json.RawMessage(tc.input))
		if err != nil {
			t.Fatal(err)
		}
		if !res.IsError || !strings.Contains(res.Content, tc.want) {
			t.Errorf("Execute(%s) = %q, want substring %q", tc.input, res.Content, tc.want)
		}
	}
}
