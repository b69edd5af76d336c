package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPTool issues GET and POST requests so the model can call APIs and
// fetch pages. HTML responses come back as sanitized visible text, JSON
// passes through, and everything is capped at the fetch limit.
type HTTPTool struct {
	client *http.Client
}

func NewHTTPTool() *HTTPTool {
	return &HTTPTool{client: &http.Client{Timeout: 30 * time.Second}}
}

func (t *HTTPTool) Name() string { return "http_request" }

func (t *HTTPTool) Description() string {
	return "发送 HTTP 请求获取数据。支持 GET 和 POST 请求，可用于获取网页内容、调用 API、下载 JSON 数据等。" +
		" Send HTTP GET/POST requests to fetch pages, call APIs, or retrieve JSON data."
}

func (t *HTTPTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "请求的 URL 地址"},
			"method": {"type": "string", "enum": ["GET", "POST"], "description": "HTTP 方法，默认 GET"},
			"headers": {"type": "object", "description": "请求头，可选"},
			"data": {"type": "object", "description": "POST 请求的 JSON 数据，可选"},
			"timeout": {"type": "integer", "description": "超时时间（秒），默认 30"}
		},
		"required": ["url"]
	}`)
}

func (t *HTTPTool) RequiresApproval() bool { return false }

type httpInput struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Data    json.RawMessage   `json:"data"`
	Timeout int               `json:"timeout"`
}

func (t *HTTPTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var in httpInput
	if err := json.Unmarshal(input, &in); err != nil {
		return httpError(fmt.Sprintf("无法解析参数: %v", err)), nil
	}

	if in.URL == "" {
		return httpError("URL 不能为空"), nil
	}
	if !strings.HasPrefix(in.URL, "http://") && !strings.HasPrefix(in.URL, "https://") {
		return httpError("仅支持 http/https URL"), nil
	}

	method := strings.ToUpper(in.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return httpError(fmt.Sprintf("不支持的 HTTP 方法: %s", method)), nil
	}

	timeout := 30 * time.Second
	if in.Timeout > 0 {
		timeout = time.Duration(in.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if method == http.MethodPost && len(in.Data) > 0 {
		body = bytes.NewReader(in.Data)
	}

	req, err := http.NewRequestWithContext(ctx, method, in.URL, body)
	if err != nil {
		return httpError(fmt.Sprintf("请求失败: %v", err)), nil
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return httpError("请求超时"), nil
		}
		return httpError(fmt.Sprintf("请求失败: %v", err)), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return httpError(fmt.Sprintf("读取响应失败: %v", err)), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpError(fmt.Sprintf("请求失败: %s", resp.Status)), nil
	}

	contentType := resp.Header.Get("Content-Type")

	// Small JSON bodies pass through intact so the model can read fields
	// directly. Oversized or non-JSON content is sanitized and truncated.
	if strings.Contains(contentType, "application/json") && len(raw) <= maxFetchChars && json.Valid(raw) {
		payload, _ := json.Marshal(map[string]any{
			"status":       "success",
			"message":      "请求成功",
			"data":         json.RawMessage(raw),
			"content_type": contentType,
		})
		return &ToolResult{Content: string(payload)}, nil
	}

	text := truncateContent(ExtractVisibleText(raw, contentType), maxFetchChars)
	payload, _ := json.Marshal(map[string]any{
		"status":       "success",
		"message":      "请求成功",
		"content":      text,
		"content_type": contentType,
		"status_code":  resp.StatusCode,
	})
	return &ToolResult{Content: string(payload)}, nil
}

func httpError(msg string) *ToolResult {
	data, _ := json.Marshal(map[string]string{"status": "error", "message": msg})
	return &ToolResult{Content: string(data), IsError: true}
}
