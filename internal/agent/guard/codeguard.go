package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/philonis/neo/internal/logging"
)

// ModificationLevel controls where generated code may be written.
type ModificationLevel string

const (
	// ModNone disables all code modification.
	ModNone ModificationLevel = "none"
	// ModSkillsOnly allows writes to the dynamic skills directory only.
	ModSkillsOnly ModificationLevel = "skills_only"
	// ModExtensions additionally allows the extensions directory.
	ModExtensions ModificationLevel = "extensions"
	// ModFullWithApproval allows any path, but protected and non-sandbox
	// files need explicit approval per write.
	ModFullWithApproval ModificationLevel = "full_with_approval"
)

var levelRank = map[ModificationLevel]int{
	ModNone:             0,
	ModSkillsOnly:       1,
	ModExtensions:       2,
	ModFullWithApproval: 3,
}

// ParseModificationLevel converts a config string into a level.
func ParseModificationLevel(s string) (ModificationLevel, error) {
	l := ModificationLevel(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelRank[l]; !ok {
		return "", fmt.Errorf("unknown modification level %q (want none, skills_only, extensions, or full_with_approval)", s)
	}
	return l, nil
}

// ErrApprovalRequired is returned by Apply when the write is allowed in
// principle but needs explicit approval that was not given.
var ErrApprovalRequired = errors.New("modification requires approval")

// Generated skills run as Python, so the tamper scan targets Python source.
// A dangerous match blocks the write outright.
var dangerousPatternSrcs = []string{
	`import\s+os\.system`,
	`os\.system\s*\(`,
	`subprocess\.(call|run|Popen)\s*\([^)]*shell\s*=\s*True`,
	`eval\s*\(`,
	`exec\s*\(`,
	`__import__\s*\(`,
	`compile\s*\([^)]*,\s*['"]exec['"]`,
	`open\s*\([^)]*,\s*['"]w['"]\s*\).*\.\w+system`,
	`FORBIDDEN_OPERATIONS\s*=\s*\{[\s}]*\}`,
	`SAFE_OPERATIONS\s*=\s*\{[^}]*\*[^}]*\}`,
	`PROTECTED_FILES\s*=\s*\{[\s}]*\}`,
	`PROTECTED_DIRECTORIES\s*=\s*\{[\s}]*\}`,
	`DANGEROUS_PATTERNS\s*=\s*\[\s*\]`,
	`CodeGuard`,
	`ModificationLevel`,
}

// Suspicious matches load the skill anyway but surface warnings.
var suspiciousPatternSrcs = []string{
	`curl\s+`,
	`wget\s+`,
	`requests\.(get|post)\s*\([^)]*http`,
	`base64\.b64decode`,
	`pickle\.loads`,
	`marshal\.loads`,
	`socket\.socket`,
	`telnetlib`,
	`ftplib`,
}

var (
	dangerousPatterns  = compilePatterns(dangerousPatternSrcs)
	suspiciousPatterns = compilePatterns(suspiciousPatternSrcs)
)

func compilePatterns(srcs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(srcs))
	for i, src := range srcs {
		out[i] = regexp.MustCompile(`(?i)` + src)
	}
	return out
}

// CodeCheck holds the results of a tamper scan.
type CodeCheck struct {
	Dangerous  []string `json:"dangerous,omitempty"`
	Suspicious []string `json:"suspicious,omitempty"`
}

// Blocked reports whether the scanned code must be rejected.
func (c CodeCheck) Blocked() bool { return len(c.Dangerous) > 0 }

// Modification records one guarded write for the history log and rollback.
type Modification struct {
	Timestamp      time.Time `json:"timestamp"`
	Path           string    `json:"file_path"`
	BackupPath     string    `json:"backup_path"`
	Reason         string    `json:"reason"`
	ChecksumBefore string    `json:"checksum_before"`
	ChecksumAfter  string    `json:"checksum_after"`
	Approved       bool      `json:"approved"`
}

// ModDecision is the outcome of a CanModify check.
type ModDecision struct {
	Allowed          bool              `json:"allowed"`
	RequiresApproval bool              `json:"requires_approval"`
	Reason           string            `json:"reason"`
	Suggestion       string            `json:"suggestion,omitempty"`
	FileType         string            `json:"file_type"` // protected, sandbox, other
	Level            ModificationLevel `json:"level"`
}

// CodeGuardStatus summarizes the guard configuration for the status tool.
type CodeGuardStatus struct {
	Level               ModificationLevel `json:"level"`
	ProtectedFilesCount int               `json:"protected_files_count"`
	ProtectedDirsCount  int               `json:"protected_dirs_count"`
	SandboxDirs         []string          `json:"sandbox_dirs"`
	ModificationsCount  int               `json:"modifications_count"`
}

// Files under the base directory that generated code must never overwrite.
// The database and config hold everything the agent knows about the user.
var protectedFiles = map[string]bool{
	"config.json": true,
	"neo.db":      true,
	"neo.db-wal":  true,
	"neo.db-shm":  true,
	"go.mod":      true,
	"go.sum":      true,
}

// Directories holding the agent's own sources and persona. Writable only at
// full_with_approval, and then only with explicit approval.
var protectedDirs = []string{
	"internal",
	"cmd",
	"soul",
	"credentials",
}

// sandboxDirs maps each writable sandbox to the minimum level that unlocks
// it. Paths are relative to the base directory.
var sandboxDirs = map[string]ModificationLevel{
	"skills/dynamic": ModSkillsOnly,
	"extensions":     ModExtensions,
}

// CodeGuard gates filesystem writes performed on behalf of generated code.
// It keeps timestamped backups of everything it overwrites and a JSON
// modification log that supports rollback.
type CodeGuard struct {
	mu        sync.Mutex
	baseDir   string
	backupDir string
	level     ModificationLevel
	history   []Modification
	logPath   string
}

// NewCodeGuard creates a code guard rooted at baseDir. Backups and the
// modification log live under baseDir/code_backups. The log is reloaded if
// present so rollback works across restarts.
func NewCodeGuard(baseDir string, level ModificationLevel) (*CodeGuard, error) {
	if _, ok := levelRank[level]; !ok {
		return nil, fmt.Errorf("unknown modification level %q", level)
	}
	backupDir := filepath.Join(baseDir, "code_backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	g := &CodeGuard{
		baseDir:   baseDir,
		backupDir: backupDir,
		level:     level,
		logPath:   filepath.Join(backupDir, "modification_log.json"),
	}
	g.loadLog()
	return g, nil
}

// Level returns the current modification level.
func (g *CodeGuard) Level() ModificationLevel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

// SetLevel changes the modification level at runtime.
func (g *CodeGuard) SetLevel(level ModificationLevel) error {
	if _, ok := levelRank[level]; !ok {
		return fmt.Errorf("unknown modification level %q", level)
	}
	g.mu.Lock()
	g.level = level
	g.mu.Unlock()
	logging.Infof("[CodeGuard] modification level set to %s", level)
	return nil
}

// ScanCode checks source text against the dangerous and suspicious pattern
// tables. Dangerous matches block the write; suspicious matches are
// warnings the caller attaches to its result.
func ScanCode(source string) CodeCheck {
	var check CodeCheck
	for i, re := range dangerousPatterns {
		if re.MatchString(source) {
			check.Dangerous = append(check.Dangerous, "dangerous pattern: "+dangerousPatternSrcs[i])
		}
	}
	for i, re := range suspiciousPatterns {
		if re.MatchString(source) {
			check.Suspicious = append(check.Suspicious, "suspicious pattern: "+suspiciousPatternSrcs[i])
		}
	}
	return check
}

// CheckCode scans source text with the shared pattern tables.
func (g *CodeGuard) CheckCode(source string) CodeCheck {
	return ScanCode(source)
}

// IsProtected reports whether the path is a protected file or lives in a
// protected directory.
func (g *CodeGuard) IsProtected(path string) bool {
	rel := g.relPath(path)
	if protectedFiles[rel] || protectedFiles[filepath.Base(rel)] {
		return true
	}
	for _, dir := range protectedDirs {
		if rel == dir || strings.HasPrefix(rel, dir+"/") {
			return true
		}
	}
	return false
}

// sandboxLevel returns the minimum level that unlocks the path's sandbox
// directory, or "" when the path is outside every sandbox.
func (g *CodeGuard) sandboxLevel(path string) ModificationLevel {
	rel := g.relPath(path)
	for dir, need := range sandboxDirs {
		if rel == dir || strings.HasPrefix(rel, dir+"/") {
			return need
		}
	}
	return ""
}

// CanModify decides whether a write to path is permitted at the current
// level, and whether it needs explicit approval.
func (g *CodeGuard) CanModify(path string) ModDecision {
	g.mu.Lock()
	level := g.level
	g.mu.Unlock()

	rel := g.relPath(path)

	if level == ModNone {
		return ModDecision{
			Allowed: false,
			Reason:  "code modification is disabled at the current level",
			Level:   level,
		}
	}

	if g.IsProtected(path) {
		if level == ModFullWithApproval {
			return ModDecision{
				Allowed:          true,
				RequiresApproval: true,
				Reason:           "protected file, modification needs approval",
				FileType:         "protected",
				Level:            level,
			}
		}
		return ModDecision{
			Allowed:    false,
			Reason:     fmt.Sprintf("protected file cannot be modified: %s", rel),
			Suggestion: "create new functionality under skills/dynamic or extensions instead",
			FileType:   "protected",
			Level:      level,
		}
	}

	if need := g.sandboxLevel(path); need != "" {
		if levelRank[level] >= levelRank[need] {
			return ModDecision{
				Allowed:  true,
				Reason:   "sandbox path, modification allowed",
				FileType: "sandbox",
				Level:    level,
			}
		}
		return ModDecision{
			Allowed:    false,
			Reason:     fmt.Sprintf("path %s needs modification level %s or higher", rel, need),
			Suggestion: "use the skills/dynamic directory, or raise the modification level",
			FileType:   "sandbox",
			Level:      level,
		}
	}

	switch level {
	case ModSkillsOnly:
		return ModDecision{
			Allowed:    false,
			Reason:     "current level only allows writes under skills/dynamic",
			Suggestion: "create the file under skills/dynamic",
			FileType:   "other",
			Level:      level,
		}
	case ModExtensions:
		return ModDecision{
			Allowed:    false,
			Reason:     "current level only allows writes under skills/dynamic and extensions",
			Suggestion: "create the file in a sandbox directory",
			FileType:   "other",
			Level:      level,
		}
	case ModFullWithApproval:
		return ModDecision{
			Allowed:          true,
			RequiresApproval: true,
			Reason:           "non-sandbox file, modification needs approval",
			FileType:         "other",
			Level:            level,
		}
	}

	return ModDecision{Allowed: false, Reason: "modification denied", Level: level}
}

// Apply performs a guarded write: permission check, tamper scan, backup of
// the existing file, then the write itself, recorded in the modification
// log. Policy denials and dangerous code come back as errors; approval gaps
// come back as ErrApprovalRequired.
func (g *CodeGuard) Apply(path, source, reason string, approved bool) (*Modification, error) {
	perm := g.CanModify(path)
	if !perm.Allowed {
		return nil, errors.New(perm.Reason)
	}
	if perm.RequiresApproval && !approved {
		return nil, ErrApprovalRequired
	}

	if check := g.CheckCode(source); check.Blocked() {
		return nil, fmt.Errorf("code rejected: %s", strings.Join(check.Dangerous, "; "))
	}

	var checksumBefore, backupPath string
	if _, err := os.Stat(path); err == nil {
		checksumBefore = fileChecksum(path)
		bp, err := g.backupFile(path)
		if err != nil {
			return nil, fmt.Errorf("backup %s: %w", path, err)
		}
		backupPath = bp
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	mod := Modification{
		Timestamp:      time.Now(),
		Path:           path,
		BackupPath:     backupPath,
		Reason:         reason,
		ChecksumBefore: checksumBefore,
		ChecksumAfter:  fileChecksum(path),
		Approved:       approved,
	}

	g.mu.Lock()
	g.history = append(g.history, mod)
	g.saveLogLocked()
	g.mu.Unlock()

	logging.Infof("[CodeGuard] wrote %s (backup: %s)", path, backupPath)
	return &mod, nil
}

// Rollback restores the most recent modifications from their backups, newest
// first. Writes that created a new file have no backup and are only removed
// from the log. Returns the restored paths.
func (g *CodeGuard) Rollback(steps int) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.history) == 0 {
		return nil, errors.New("no modifications to roll back")
	}
	if steps < 1 {
		steps = 1
	}

	var restored []string
	for i := 0; i < steps && len(g.history) > 0; i++ {
		mod := g.history[len(g.history)-1]
		g.history = g.history[:len(g.history)-1]

		if mod.BackupPath == "" {
			continue
		}
		data, err := os.ReadFile(mod.BackupPath)
		if err != nil {
			continue
		}
		if err := os.WriteFile(mod.Path, data, 0o644); err != nil {
			continue
		}
		restored = append(restored, mod.Path)
	}

	g.saveLogLocked()
	return restored, nil
}

// History returns the most recent modifications, oldest first, capped at
// limit.
func (g *CodeGuard) History(limit int) []Modification {
	g.mu.Lock()
	defer g.mu.Unlock()

	if limit <= 0 || limit > len(g.history) {
		limit = len(g.history)
	}
	out := make([]Modification, limit)
	copy(out, g.history[len(g.history)-limit:])
	return out
}

// Status reports the guard configuration and history size.
func (g *CodeGuard) Status() CodeGuardStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	dirs := make([]string, 0, len(sandboxDirs))
	for d := range sandboxDirs {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return CodeGuardStatus{
		Level:               g.level,
		ProtectedFilesCount: len(protectedFiles),
		ProtectedDirsCount:  len(protectedDirs),
		SandboxDirs:         dirs,
		ModificationsCount:  len(g.history),
	}
}

// relPath normalizes a path to slash-separated form relative to the base
// directory. Paths outside the base come back unchanged.
func (g *CodeGuard) relPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	base, err := filepath.Abs(g.baseDir)
	if err != nil {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (g *CodeGuard) backupFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s.%s.bak", filepath.Base(path), time.Now().Format("20060102_150405"))
	backupPath := filepath.Join(g.backupDir, name)
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", err
	}
	return backupPath, nil
}

func (g *CodeGuard) loadLog() {
	data, err := os.ReadFile(g.logPath)
	if err != nil {
		return
	}
	var history []Modification
	if err := json.Unmarshal(data, &history); err != nil {
		logging.Warnf("[CodeGuard] modification log unreadable, starting fresh: %v", err)
		return
	}
	g.history = history
}

func (g *CodeGuard) saveLogLocked() {
	data, err := json.MarshalIndent(g.history, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(g.logPath, data, 0o644); err != nil {
		logging.Warnf("[CodeGuard] save modification log: %v", err)
	}
}

func fileChecksum(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
