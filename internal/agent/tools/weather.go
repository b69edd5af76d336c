package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WeatherTool looks up current weather through wttr.in, which needs no API
// key. It is the canonical example of a simple HTTP-backed skill.
type WeatherTool struct {
	client  *http.Client
	baseURL string
}

func NewWeatherTool() *WeatherTool {
	return &WeatherTool{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: "https://wttr.in",
	}
}

func (t *WeatherTool) Name() string { return "weather" }

func (t *WeatherTool) Description() string {
	return "查询指定城市的当前天气和温度。Get the current weather, temperature, and conditions for a city."
}

func (t *WeatherTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"city": {"type": "string", "description": "城市名称（如 '北京', 'Shanghai', 'San Francisco'）"}
		},
		"required": ["city"]
	}`)
}

func (t *WeatherTool) RequiresApproval() bool { return false }

type weatherInput struct {
	City string `json:"city"`
}

// wttrResponse is the subset of wttr.in's j1 format we report.
type wttrResponse struct {
	CurrentCondition []struct {
		TempC       string `json:"temp_C"`
		FeelsLikeC  string `json:"FeelsLikeC"`
		Humidity    string `json:"humidity"`
		WindSpeedKm string `json:"windspeedKmph"`
		WeatherDesc []struct {
			Value string `json:"value"`
		} `json:"weatherDesc"`
	} `json:"current_condition"`
}

func (t *WeatherTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var in weatherInput
	if err := json.Unmarshal(input, &in); err != nil {
		return &ToolResult{Content: fmt.Sprintf("无法解析参数: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(in.City) == "" {
		return &ToolResult{Content: "city 不能为空", IsError: true}, nil
	}

	reqURL := fmt.Sprintf("%s/%s?format=j1", strings.TrimRight(t.baseURL, "/"), url.PathEscape(in.City))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("查询失败: %v", err), IsError: true}, nil
	}
	req.Header.Set("User-Agent", "curl/8.0") // wttr.in serves JSON to curl-like agents

	resp, err := t.client.Do(req)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("查询天气失败: %v", err), IsError: true}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ToolResult{Content: fmt.Sprintf("天气服务返回 %s", resp.Status), IsError: true}, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("读取响应失败: %v", err), IsError: true}, nil
	}

	var data wttrResponse
	if err := json.Unmarshal(raw, &data); err != nil || len(data.CurrentCondition) == 0 {
		return &ToolResult{Content: fmt.Sprintf("无法解析天气数据 (%s)", in.City), IsError: true}, nil
	}

	cur := data.CurrentCondition[0]
	desc := ""
	if len(cur.WeatherDesc) > 0 {
		desc = cur.WeatherDesc[0].Value
	}

	payload, _ := json.Marshal(map[string]any{
		"status":        "success",
		"city":          in.City,
		"condition":     desc,
		"temperature_c": cur.TempC,
		"feels_like_c":  cur.FeelsLikeC,
		"humidity":      cur.Humidity,
		"wind_kmph":     cur.WindSpeedKm,
	})
	return &ToolResult{Content: string(payload)}, nil
}
