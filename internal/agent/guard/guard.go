// Package guard enforces the operation safety policy for browser and desktop
// automation, and protects the agent's own code from unsafe self-modification.
//
// Every automation action is classified into one of three levels before it
// runs: safe actions execute immediately, confirm-level actions need user
// approval (cached per session), and forbidden actions are always blocked.
// Auto-confirm mode skips the approval prompt but can never unlock a
// forbidden action. Each decision is appended to an audit trail.
package guard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/philonis/neo/internal/db"
	"github.com/philonis/neo/internal/logging"
)

// Level classifies the risk of an automation operation.
type Level string

const (
	LevelSafe      Level = "safe"
	LevelConfirm   Level = "confirm"
	LevelForbidden Level = "forbidden"
)

// SafeOperations execute without confirmation. Read-only by nature.
var SafeOperations = map[string]bool{
	"navigate":     true,
	"read":         true,
	"scroll":       true,
	"screenshot":   true,
	"extract":      true,
	"wait":         true,
	"get_title":    true,
	"get_url":      true,
	"get_dom":      true,
	"get_elements": true,
	"check_login":  true,
	"is_running":   true,
	"list":         true,
	"list_apps":    true,
	"launch":       true,
	"activate":     true,
}

// ConfirmOperations mutate page or app state and need approval once per
// session for each action:target pair.
var ConfirmOperations = map[string]bool{
	"click":      true,
	"fill":       true,
	"login":      true,
	"search":     true,
	"submit":     true,
	"select":     true,
	"upload":     true,
	"type":       true,
	"file_write": true,
	"send":       true,
	"pay":        true,
}

// ForbiddenOperations are never executed, regardless of auto-confirm or any
// approval. These cover irreversible or account-compromising actions.
var ForbiddenOperations = map[string]bool{
	"payment":           true,
	"delete":            true,
	"publish":           true,
	"modify_settings":   true,
	"download_file":     true,
	"execute_script":    true,
	"install_extension": true,
	"delete_all":        true,
	"format_disk":       true,
	"system_shutdown":   true,
}

// sensitiveKeywords escalate otherwise-unclassified operations to confirm
// level when they appear in the target selector or input value. Mixed
// English/Chinese because target apps and sites use both.
var sensitiveKeywords = []string{
	"payment", "checkout", "buy", "purchase", "pay",
	"delete", "remove", "trash",
	"submit", "post", "publish", "send",
	"settings", "config", "admin",
	"password", "credit card",
	"支付", "密码", "转账", "删除",
}

const (
	// MaxTargetLength bounds URLs and selectors.
	MaxTargetLength = 2048
	// MaxInputLength bounds values typed or filled into inputs.
	MaxInputLength = 10000
)

// Decision is the outcome of a guard check. Tools serialize it into their
// results so the model sees why an action was refused.
type Decision struct {
	Allowed              bool   `json:"allowed"`
	Level                Level  `json:"level"`
	Reason               string `json:"reason"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	ConfirmationMessage  string `json:"confirmation_message,omitempty"`
}

// ConfirmFunc asks the user to approve a confirm-level operation. Returning
// true approves it for the rest of the session.
type ConfirmFunc func(action, target, value string) bool

// Options configures a Guard.
type Options struct {
	// AutoConfirm approves confirm-level operations without prompting.
	// Forbidden operations stay blocked.
	AutoConfirm bool
	// AuditDir receives JSON audit exports from FlushAudit. Empty disables
	// file export.
	AuditDir string
	// Store persists audit entries to the database. Optional.
	Store *db.AuditStore
	// Confirm is invoked for confirm-level operations when AutoConfirm is
	// off. Nil means deny-and-report (the caller surfaces the confirmation
	// message instead).
	Confirm ConfirmFunc
}

// Guard holds per-session safety state: the confirmation cache and the
// in-memory audit trail. Construct one per agent session.
type Guard struct {
	mu          sync.Mutex
	autoConfirm bool
	confirmFn   ConfirmFunc
	confirmed   map[string]bool
	entries     []db.AuditEntry
	flushed     int // entries[:flushed] already persisted to the store
	store       *db.AuditStore
	auditDir    string
}

// New creates a guard with an empty confirmation cache and audit trail.
func New(opts Options) *Guard {
	return &Guard{
		autoConfirm: opts.AutoConfirm,
		confirmFn:   opts.Confirm,
		confirmed:   make(map[string]bool),
		store:       opts.Store,
		auditDir:    opts.AuditDir,
	}
}

// Classify returns the risk level for an operation. Forbidden wins over
// everything: a forbidden keyword in the action or target blocks even
// actions from the safe set. Unrecognized actions default to confirm.
func (g *Guard) Classify(action, target, value string) Level {
	actionLower := strings.ToLower(action)
	targetLower := strings.ToLower(target)

	if ForbiddenOperations[actionLower] {
		return LevelForbidden
	}
	for op := range ForbiddenOperations {
		if strings.Contains(actionLower, op) || strings.Contains(targetLower, op) {
			return LevelForbidden
		}
	}

	if SafeOperations[actionLower] {
		return LevelSafe
	}
	if ConfirmOperations[actionLower] {
		return LevelConfirm
	}

	valueLower := strings.ToLower(value)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(targetLower, kw) || strings.Contains(valueLower, kw) {
			return LevelConfirm
		}
	}

	return LevelConfirm
}

// CheckOperation validates and classifies an operation, consults the
// confirmation cache and auto-confirm setting, records an audit entry, and
// returns the decision. Callers must not execute the operation unless
// Allowed is true.
func (g *Guard) CheckOperation(action, target, value string) Decision {
	level := g.Classify(action, target, value)

	if reason := validateInputs(action, target, value); reason != "" {
		return Decision{Allowed: false, Level: level, Reason: reason}
	}

	switch level {
	case LevelForbidden:
		g.audit(action, target, level, false, "blocked by policy")
		logging.Warnf("[Guard] blocked forbidden operation %q on %q", action, truncate(target, 80))
		return Decision{
			Allowed: false,
			Level:   level,
			Reason:  fmt.Sprintf("operation %q is forbidden by the safety policy", action),
		}

	case LevelSafe:
		g.audit(action, target, level, true, "auto-approved")
		return Decision{Allowed: true, Level: level, Reason: "safe operation"}
	}

	// Confirm level from here on.
	key := action + ":" + target

	g.mu.Lock()
	cached := g.confirmed[key]
	g.mu.Unlock()
	if cached {
		g.audit(action, target, level, true, "confirmed earlier this session")
		return Decision{Allowed: true, Level: level, Reason: "already confirmed this session"}
	}

	if g.autoConfirm {
		g.audit(action, target, level, true, "auto-confirm")
		return Decision{Allowed: true, Level: level, Reason: "auto-confirm enabled"}
	}

	if g.confirmFn != nil {
		if g.confirmFn(action, target, value) {
			g.mu.Lock()
			g.confirmed[key] = true
			g.mu.Unlock()
			g.audit(action, target, level, true, "approved by user")
			return Decision{Allowed: true, Level: level, Reason: "confirmed by user"}
		}
		g.audit(action, target, level, false, "denied by user")
		return Decision{Allowed: false, Level: level, Reason: "denied by user"}
	}

	g.audit(action, target, level, false, "awaiting confirmation")
	return Decision{
		Allowed:              false,
		Level:                level,
		Reason:               "user confirmation required",
		RequiresConfirmation: true,
		ConfirmationMessage:  confirmationMessage(action, target, value),
	}
}

// SetAutoConfirm toggles auto-confirm for the session.
func (g *Guard) SetAutoConfirm(on bool) {
	g.mu.Lock()
	g.autoConfirm = on
	g.mu.Unlock()
}

// SetConfirmFunc installs the approval callback.
func (g *Guard) SetConfirmFunc(fn ConfirmFunc) {
	g.mu.Lock()
	g.confirmFn = fn
	g.mu.Unlock()
}

// ClearConfirmations wipes the whole session confirmation cache. There is no
// per-entry revocation.
func (g *Guard) ClearConfirmations() {
	g.mu.Lock()
	g.confirmed = make(map[string]bool)
	g.mu.Unlock()
}

// Entries returns a copy of the session's audit trail, oldest first.
func (g *Guard) Entries() []db.AuditEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]db.AuditEntry, len(g.entries))
	copy(out, g.entries)
	return out
}

// SessionSummary aggregates this session's audit trail.
func (g *Guard) SessionSummary() db.AuditSummary {
	g.mu.Lock()
	defer g.mu.Unlock()

	var sum db.AuditSummary
	sum.TotalOperations = len(g.entries)
	for _, e := range g.entries {
		switch Level(e.Level) {
		case LevelSafe:
			sum.SafeOperations++
		case LevelConfirm:
			sum.ConfirmedOperations++
		case LevelForbidden:
			sum.ForbiddenAttempts++
		}
		if e.Approved {
			sum.ApprovedOperations++
		}
	}
	if sum.TotalOperations > 0 {
		sum.ApprovalRate = float64(sum.ApprovedOperations) / float64(sum.TotalOperations)
	}
	return sum
}

// FlushAudit persists unsaved entries to the database store and exports the
// full session trail as a JSON file under the audit directory. Returns the
// export path, or "" when no audit directory is configured.
func (g *Guard) FlushAudit() (string, error) {
	g.mu.Lock()
	pending := g.entries[g.flushed:]
	all := make([]db.AuditEntry, len(g.entries))
	copy(all, g.entries)
	g.mu.Unlock()

	if g.store != nil {
		for _, e := range pending {
			if err := g.store.Append(e); err != nil {
				return "", fmt.Errorf("persist audit entry: %w", err)
			}
		}
	}
	g.mu.Lock()
	g.flushed = len(g.entries)
	g.mu.Unlock()

	if g.auditDir == "" || len(all) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(g.auditDir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(g.auditDir, "audit_"+time.Now().Format("20060102_150405")+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (g *Guard) audit(action, target string, level Level, approved bool, result string) {
	g.mu.Lock()
	g.entries = append(g.entries, db.AuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		Target:    truncate(target, 200),
		Level:     string(level),
		Approved:  approved,
		Result:    result,
	})
	g.mu.Unlock()
}

// validateInputs applies hard length limits and the URL scheme allow-list.
// Returns a denial reason, or "" when the inputs pass.
func validateInputs(action, target, value string) string {
	if len(target) > MaxTargetLength {
		return fmt.Sprintf("target exceeds maximum length (%d)", MaxTargetLength)
	}
	if len(value) > MaxInputLength {
		return fmt.Sprintf("input exceeds maximum length (%d)", MaxInputLength)
	}
	if strings.EqualFold(action, "navigate") && target != "" && !isSafeURL(target) {
		return "unsafe URL or disallowed scheme"
	}
	return ""
}

// isSafeURL allows http/https URLs and relative paths. Script-bearing and
// local-file schemes are rejected outright.
func isSafeURL(raw string) bool {
	u := strings.ToLower(strings.TrimSpace(raw))

	for _, scheme := range []string{"javascript:", "data:", "vbscript:", "file://", "ftp://"} {
		if strings.HasPrefix(u, scheme) {
			return false
		}
	}

	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return true
	}
	return strings.HasPrefix(u, "/") || strings.HasPrefix(u, ".")
}

var confirmPrompts = map[string]string{
	"click":  "Click element",
	"fill":   "Fill input",
	"login":  "Log in to site",
	"search": "Search for",
	"submit": "Submit form",
	"select": "Select option",
	"upload": "Upload file to",
	"type":   "Type into",
	"send":   "Send via",
}

func confirmationMessage(action, target, value string) string {
	desc, ok := confirmPrompts[strings.ToLower(action)]
	if !ok {
		desc = "Perform " + action + " on"
	}
	msg := fmt.Sprintf("Confirmation required: %s %q", desc, truncate(target, 120))
	if value != "" && len(value) < 100 {
		msg += fmt.Sprintf(" (value: %s)", truncate(value, 50))
	}
	return msg + " — allow this operation?"
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ConfirmationMessage renders the prompt shown to the user when an
// operation at the confirm level needs approval. Exposed so interactive
// frontends can display the same wording the relay path uses.
func ConfirmationMessage(action, target, value string) string {
	return confirmationMessage(action, target, value)
}
