package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/philonis/neo/internal/logging"
)

// PolicyLevel defines the security level
type PolicyLevel string

const (
	PolicyDeny      PolicyLevel = "deny"      // Deny all dangerous operations
	PolicyAllowlist PolicyLevel = "allowlist" // Allow only allowlisted commands
	PolicyFull      PolicyLevel = "full"      // Allow all (dangerous!)
)

// AskMode defines when to ask for approval
type AskMode string

const (
	AskModeOff    AskMode = "off"     // Never ask
	AskModeOnMiss AskMode = "on-miss" // Ask only for non-allowlisted
	AskModeAlways AskMode = "always"  // Always ask
)

// ApprovalCallback is called to request approval from a remote source
// (e.g., the web client). It receives the tool name and input, and returns
// true if approved.
type ApprovalCallback func(ctx context.Context, toolName string, input json.RawMessage) (bool, error)

// Policy manages approval for tools that declare RequiresApproval.
type Policy struct {
	Level            PolicyLevel
	AskMode          AskMode
	Allowlist        map[string]bool
	ApprovalCallback ApprovalCallback // If set, used instead of stdin prompts
}

// SafeBins are command prefixes that never require approval.
var SafeBins = []string{
	"ls", "pwd", "cat", "head", "tail", "grep", "find", "which", "type",
	"jq", "cut", "sort", "uniq", "wc", "echo", "date", "env", "printenv",
	"git status", "git log", "git diff", "git branch", "git show",
	"go version", "python3 --version",
}

// NewPolicy creates a new policy with defaults
func NewPolicy() *Policy {
	allowlist := make(map[string]bool)
	for _, cmd := range SafeBins {
		allowlist[cmd] = true
	}

	return &Policy{
		Level:     PolicyAllowlist,
		AskMode:   AskModeOnMiss,
		Allowlist: allowlist,
	}
}

// NewPolicyFromConfig creates a policy from config values
func NewPolicyFromConfig(level, askMode string, allowlist []string) *Policy {
	p := NewPolicy()

	switch level {
	case "deny":
		p.Level = PolicyDeny
	case "full":
		p.Level = PolicyFull
	default:
		p.Level = PolicyAllowlist
	}

	switch askMode {
	case "off":
		p.AskMode = AskModeOff
	case "always":
		p.AskMode = AskModeAlways
	default:
		p.AskMode = AskModeOnMiss
	}

	for _, item := range allowlist {
		p.Allowlist[item] = true
	}

	return p
}

// RequiresApproval checks if a command string requires user approval
func (p *Policy) RequiresApproval(cmd string) bool {
	if p.Level == PolicyFull {
		return false
	}

	if p.Level == PolicyDeny {
		return true
	}

	if p.isAllowed(cmd) {
		return p.AskMode == AskModeAlways
	}

	return p.AskMode != AskModeOff
}

// isAllowed checks if a command matches the allowlist
func (p *Policy) isAllowed(cmd string) bool {
	cmd = strings.TrimSpace(cmd)

	if p.Allowlist[cmd] {
		return true
	}

	parts := strings.Fields(cmd)
	if len(parts) > 0 {
		// Binary name alone
		if p.Allowlist[parts[0]] {
			return true
		}
		// Binary with first arg (e.g., "git status")
		if len(parts) > 1 && p.Allowlist[parts[0]+" "+parts[1]] {
			return true
		}
	}

	return false
}

// RequestApproval asks the user for approval of a tool call.
func (p *Policy) RequestApproval(ctx context.Context, toolName string, input json.RawMessage) (bool, error) {
	// Fast path: full policy level means auto-approve everything
	if p.Level == PolicyFull {
		logging.Debugf("[Policy] auto-approving %s (full policy level)", toolName)
		return true, nil
	}

	// Previously approved with "always" for this session
	if p.AskMode != AskModeAlways && p.isAllowed(toolName) {
		logging.Debugf("[Policy] %s is allowlisted, auto-approving", toolName)
		return true, nil
	}

	inputStr := string(input)
	if len(inputStr) > 400 {
		inputStr = inputStr[:400] + "..."
	}

	// Use callback if set (for remote/web approval)
	if p.ApprovalCallback != nil {
		logging.Debugf("[Policy] requesting approval via callback for tool=%s", toolName)
		return p.ApprovalCallback(ctx, toolName, input)
	}

	// Fall back to stdin prompts for CLI mode
	fmt.Printf("\n\033[33m⚠ Tool '%s' requires approval:\033[0m\n", toolName)
	fmt.Printf("\033[90m%s\033[0m\n", inputStr)
	fmt.Print("\033[33mApprove? [y/N/a(lways)]: \033[0m")

	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}

	response = strings.TrimSpace(strings.ToLower(response))

	switch response {
	case "y", "yes":
		return true, nil
	case "a", "always":
		// Approve this tool for the rest of the session
		p.AddToAllowlist(toolName)
		return true, nil
	default:
		return false, nil
	}
}

// AddToAllowlist adds a command pattern to the allowlist
func (p *Policy) AddToAllowlist(pattern string) {
	p.Allowlist[pattern] = true
}
