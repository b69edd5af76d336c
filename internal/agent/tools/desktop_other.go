//go:build !darwin

package tools

import (
	"context"
	"fmt"
)

func desktopAction(_ context.Context, in desktopInput) (*ToolResult, error) {
	return desktopResult(map[string]any{
		"success": false,
		"error":   fmt.Sprintf("desktop 操作 %q 仅支持 macOS (desktop automation requires macOS)", in.Action),
	}), nil
}
