package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func TestPolicy_RequiresApproval(t *testing.T) {
	cases := []struct {
		level   PolicyLevel
		askMode AskMode
		cmd     string
		want    bool
	}{
		{PolicyFull, AskModeAlways, "rm -rf ./x", false},
		{PolicyDeny, AskModeOff, "ls", true},
		{PolicyAllowlist, AskModeOnMiss, "ls -la", false},
		{PolicyAllowlist, AskModeOnMiss, "git status --short", false},
		{PolicyAllowlist, AskModeOnMiss, "git push origin main", true},
		{PolicyAllowlist, AskModeAlways, "ls", true},
		{PolicyAllowlist, AskModeOff, "curl https://example.com", false},
	}

	for _, tc := range cases {
		p := NewPolicy()
		p.Level = tc.level
		p.AskMode = tc.askMode
		if got := p.RequiresApproval(tc.cmd); got != tc.want {
			t.Errorf("RequiresApproval(%q) level=%s ask=%s = %v, want %v",
				tc.cmd, tc.level, tc.askMode, got, tc.want)
		}
	}
}

func TestPolicy_AllowlistMatching(t *testing.T) {
	p := NewPolicy()
	p.AddToAllowlist("docker ps")

	cases := []struct {
		cmd  string
		want bool
	}{
		{"ls", true},
		{"ls -la /tmp", true},
		{"git status", true},
		{"git status --porcelain", true},
		{"git push", false},
		{"docker ps -a", true},
		{"docker rm x", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := p.isAllowed(tc.cmd); got != tc.want {
			t.Errorf("isAllowed(%q) = %v, want %v", tc.cmd, got, tc.want)
		}
	}
}

func TestPolicy_RequestApprovalRouting(t *testing.T) {
	calls := 0
	p := NewPolicy()
	p.ApprovalCallback = func(_ context.Context, name string, _ json.RawMessage) (bool, error) {
		calls++
		return name == "blessed", nil
	}

	// Allowlisted tool names auto-approve without touching the callback
	// (unless ask mode is always).
	p.AddToAllowlist("trusted_tool")
	ok, err := p.RequestApproval(context.Background(), "trusted_tool", nil)
	if err != nil || !ok || calls != 0 {
		t.Errorf("allowlisted tool: ok=%v err=%v calls=%d", ok, err, calls)
	}

	ok, _ = p.RequestApproval(context.Background(), "blessed", nil)
	if !ok || calls != 1 {
		t.Errorf("callback approval: ok=%v calls=%d", ok, calls)
	}
	ok, _ = p.RequestApproval(context.Background(), "cursed", nil)
	if ok || calls != 2 {
		t.Errorf("callback denial: ok=%v calls=%d", ok, calls)
	}

	// Always mode routes even allowlisted names through the callback.
	p.AskMode = AskModeAlways
	_, _ = p.RequestApproval(context.Background(), "trusted_tool", nil)
	if calls != 3 {
		t.Errorf("always mode skipped the callback: calls=%d", calls)
	}
}

func TestPolicy_FromConfig(t *testing.T) {
	p := NewPolicyFromConfig("deny", "always", []string{"custom-bin"})
	if p.Level != PolicyDeny || p.AskMode != AskModeAlways {
		t.Errorf("level=%s ask=%s", p.Level, p.AskMode)
	}
	if !p.Allowlist["custom-bin"] {
		t.Error("extra allowlist entry missing")
	}

	p = NewPolicyFromConfig("bogus", "bogus", nil)
	if p.Level != PolicyAllowlist || p.AskMode != AskModeOnMiss {
		t.Errorf("defaults: level=%s ask=%s", p.Level, p.AskMode)
	}
}
