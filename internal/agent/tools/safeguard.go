package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// The safeguard enforces hard safety limits that CANNOT be overridden by
// policy, auto-confirm, or any user setting. These protect the host
// operating system from catastrophic damage.
//
// Design principles:
//   - Defense in depth: runs inside Registry.Execute() before tool.Execute()
//   - Unconditional: no bypass via policy level or approval
//   - Cross-platform: covers macOS, Linux, and Windows system paths
//   - Fail-closed: when in doubt, block the operation

// CheckSafeguard validates a tool call against hard safety limits. It scans
// the input for shell-command and filesystem-path fields at any nesting
// depth, so it covers dynamic skills whose schemas the registry has never
// seen. Returns nil if the call is safe, or an error describing the block.
func CheckSafeguard(toolName string, input json.RawMessage) error {
	if len(input) == 0 {
		return nil
	}

	var parsed any
	if err := json.Unmarshal(input, &parsed); err != nil {
		return nil // not JSON; the tool will reject it
	}

	var blocked error
	walkInputFields(parsed, func(key, value string) {
		if blocked != nil || value == "" {
			return
		}
		switch strings.ToLower(key) {
		case "command", "cmd", "shell":
			blocked = checkCommandSafeguard(value)
		case "path", "file", "output", "save_path":
			blocked = checkPathSafeguard(value)
		}
	})
	return blocked
}

// walkInputFields visits every string field in a decoded JSON value,
// descending into objects and arrays.
func walkInputFields(v any, visit func(key, value string)) {
	switch t := v.(type) {
	case map[string]any:
		for key, val := range t {
			if s, ok := val.(string); ok {
				visit(key, s)
				continue
			}
			walkInputFields(val, visit)
		}
	case []any:
		for _, item := range t {
			walkInputFields(item, visit)
		}
	}
}

// --- Path safeguard ---

func checkPathSafeguard(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil
	}

	// Check original path first (before symlink resolution)
	if reason := isProtectedPath(absPath); reason != "" {
		return fmt.Errorf("BLOCKED: cannot touch %q - %s. "+
			"This is a hard safety limit that cannot be overridden. "+
			"If you need to modify system files, do it manually in a terminal", path, reason)
	}

	// Also check resolved path (catches symlink indirection like /etc -> /private/etc)
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil && resolved != absPath {
		if reason := isProtectedPath(resolved); reason != "" {
			return fmt.Errorf("BLOCKED: cannot touch %q - %s. "+
				"This is a hard safety limit that cannot be overridden. "+
				"If you need to modify system files, do it manually in a terminal", path, reason)
		}
	}

	return nil
}

// --- Command safeguard ---

func checkCommandSafeguard(command string) error {
	cmd := strings.TrimSpace(command)
	cmdLower := strings.ToLower(cmd)

	// Block sudo entirely
	if hasSudo(cmdLower) {
		return fmt.Errorf("BLOCKED: sudo is not permitted. " +
			"Neo must never run commands with elevated privileges. " +
			"This is a hard safety limit that cannot be overridden. " +
			"If you need root access, run the command manually in a terminal")
	}

	// Block su (switch user to root)
	if hasSu(cmdLower) {
		return fmt.Errorf("BLOCKED: su is not permitted. " +
			"Neo must never run commands as another user. " +
			"This is a hard safety limit that cannot be overridden")
	}

	// Block destructive operations targeting root or system paths
	if reason := checkDestructiveCommand(cmd, cmdLower); reason != "" {
		return fmt.Errorf("BLOCKED: %s. "+
			"This is a hard safety limit that cannot be overridden. "+
			"If you need to perform this operation, do it manually in a terminal", reason)
	}

	return nil
}

// hasSudo checks if a command uses sudo in any form
func hasSudo(cmdLower string) bool {
	if strings.HasPrefix(cmdLower, "sudo ") || strings.HasPrefix(cmdLower, "sudo\t") {
		return true
	}
	// Piped or chained sudo (with or without space before the separator)
	for _, sep := range []string{
		" | sudo ", "| sudo ",
		" && sudo ", "&& sudo ",
		" ; sudo ", "; sudo ",
		" || sudo ", "|| sudo ",
	} {
		if strings.Contains(cmdLower, sep) {
			return true
		}
	}
	// Subshell sudo
	if strings.Contains(cmdLower, "$(sudo ") || strings.Contains(cmdLower, "`sudo ") {
		return true
	}
	return false
}

// hasSu checks if a command uses su to switch user
func hasSu(cmdLower string) bool {
	if strings.HasPrefix(cmdLower, "su ") || strings.HasPrefix(cmdLower, "su\t") || cmdLower == "su" {
		return true
	}
	// But don't block "suspend", "sum", etc.
	for _, sep := range []string{" | su ", " && su ", " ; su ", " || su "} {
		if strings.Contains(cmdLower, sep) {
			return true
		}
	}
	return false
}

// checkDestructiveCommand checks for commands that target system-critical paths
func checkDestructiveCommand(cmd, cmdLower string) string {
	// rm -rf / or rm -rf /* (catastrophic)
	if isRootWipe(cmdLower) {
		return "cannot delete the root filesystem - this would destroy the operating system"
	}

	// dd to block devices
	if strings.Contains(cmdLower, "dd ") && (strings.Contains(cmdLower, "of=/dev/") || strings.Contains(cmdLower, "of= /dev/")) {
		return "cannot write to block devices with dd - this could destroy disk data"
	}

	// Disk formatting and partitioning commands
	formatCmds := []struct {
		pattern string
		reason  string
	}{
		{"mkfs", "cannot format filesystems - this would destroy all data on the target device"},
		{"fdisk", "cannot modify disk partition tables - this could destroy all data on the drive"},
		{"gdisk", "cannot modify GPT partition tables - this could destroy all data on the drive"},
		{"parted", "cannot modify disk partitions - this could destroy all data on the drive"},
		{"sfdisk", "cannot modify disk partition tables - this could destroy all data on the drive"},
		{"wipefs", "cannot wipe filesystem signatures - this could make drives unreadable"},
		{"diskutil erasedisk", "cannot erase disks - this would destroy all data on the drive"},
		{"diskutil erasevolume", "cannot erase volumes - this would destroy all data on the volume"},
		{"diskutil partitiondisk", "cannot partition disks - this could destroy all data on the drive"},
		{"format", "cannot format drives - this would destroy all data on the target"},
	}
	for _, fc := range formatCmds {
		if strings.HasPrefix(cmdLower, fc.pattern) || strings.Contains(cmdLower, " "+fc.pattern) {
			return fc.reason
		}
	}

	// Fork bombs
	if strings.Contains(cmd, ":(){ :|:& };:") || strings.Contains(cmdLower, "fork bomb") {
		return "fork bomb detected - this would crash the system"
	}

	// Writing to /dev/ (except /dev/null, /dev/stdout, /dev/stderr)
	if strings.Contains(cmdLower, "> /dev/") || strings.Contains(cmdLower, ">/dev/") {
		safeDevs := []string{"/dev/null", "/dev/stdout", "/dev/stderr"}
		isSafe := false
		for _, d := range safeDevs {
			if strings.Contains(cmdLower, "> "+d) || strings.Contains(cmdLower, ">"+d) {
				isSafe = true
				break
			}
		}
		if !isSafe {
			return "cannot write to device files - this could damage hardware or corrupt data"
		}
	}

	// rm targeting protected system directories
	if strings.Contains(cmdLower, "rm ") || strings.HasPrefix(cmdLower, "rm\t") {
		if reason := checkRmTargets(cmd); reason != "" {
			return reason
		}
	}

	// chmod/chown on system paths
	if strings.HasPrefix(cmdLower, "chmod ") || strings.HasPrefix(cmdLower, "chown ") {
		if reason := checkChmodTargets(cmd); reason != "" {
			return reason
		}
	}

	return ""
}

// isRootWipe detects attempts to delete the entire filesystem
func isRootWipe(cmdLower string) bool {
	wipePatterns := []string{
		"rm -rf /",
		"rm -fr /",
		"rm -rf /*",
		"rm -fr /*",
		"rm -rf --no-preserve-root /",
	}
	for _, p := range wipePatterns {
		if strings.Contains(cmdLower, p) {
			idx := strings.Index(cmdLower, p)
			after := cmdLower[idx+len(p):]
			// Nothing after the slash (or just *) means it targets root itself,
			// not /some/path.
			if p[len(p)-1] == '/' && (after == "" || after[0] == ' ' || after[0] == '\n' || after[0] == ';' || after[0] == '&') {
				return true
			}
			if p[len(p)-1] == '*' {
				return true
			}
		}
	}
	return false
}

// checkRmTargets checks if rm targets protected system directories
func checkRmTargets(cmd string) string {
	parts := strings.Fields(cmd)
	for _, part := range parts[1:] { // skip "rm"
		if strings.HasPrefix(part, "-") {
			continue // skip flags
		}

		absPath, err := filepath.Abs(part)
		if err != nil {
			continue
		}

		if reason := isProtectedPath(absPath); reason != "" {
			return fmt.Sprintf("cannot delete %q - %s", part, reason)
		}
	}
	return ""
}

// checkChmodTargets checks if chmod/chown targets protected system directories
func checkChmodTargets(cmd string) string {
	parts := strings.Fields(cmd)
	for _, part := range parts[1:] {
		if strings.HasPrefix(part, "-") {
			continue
		}
		// Skip the mode/owner argument (e.g., "777", "root:root")
		if len(part) <= 5 && !strings.Contains(part, "/") {
			continue
		}

		absPath, err := filepath.Abs(part)
		if err != nil {
			continue
		}

		if reason := isProtectedPath(absPath); reason != "" {
			return fmt.Sprintf("cannot modify permissions on %q - %s", part, reason)
		}
	}
	return ""
}

// isProtectedPath checks if an absolute path falls within a protected system
// directory. Returns a human-readable reason if protected, or "" if safe.
func isProtectedPath(absPath string) string {
	absPath = filepath.Clean(absPath)

	switch runtime.GOOS {
	case "darwin":
		return isProtectedPathDarwin(absPath)
	case "windows":
		return isProtectedPathWindows(absPath)
	default:
		return isProtectedPathLinux(absPath)
	}
}

// --- macOS protected paths ---

func isProtectedPathDarwin(absPath string) string {
	if absPath == "/" {
		return "this is the root filesystem"
	}

	protectedPrefixes := []struct {
		prefix string
		reason string
	}{
		{"/System", "macOS system files (SIP-protected)"},
		{"/usr/bin", "system binaries"},
		{"/usr/sbin", "system admin binaries"},
		{"/usr/lib", "system libraries"},
		{"/bin", "core system binaries"},
		{"/sbin", "core system admin binaries"},
		{"/private/var/db", "macOS system databases"},
		{"/Library/LaunchDaemons", "system launch daemons"},
		{"/Library/LaunchAgents", "system launch agents"},
		{"/etc", "system configuration"},
	}

	for _, p := range protectedPrefixes {
		if absPath == p.prefix || strings.HasPrefix(absPath, p.prefix+"/") {
			return p.reason
		}
	}

	return isProtectedUserPath(absPath)
}

// --- Linux protected paths ---

func isProtectedPathLinux(absPath string) string {
	if absPath == "/" {
		return "this is the root filesystem"
	}

	protectedPrefixes := []struct {
		prefix string
		reason string
	}{
		{"/bin", "core system binaries"},
		{"/sbin", "core system admin binaries"},
		{"/usr/bin", "system binaries"},
		{"/usr/sbin", "system admin binaries"},
		{"/usr/lib", "system libraries"},
		{"/boot", "boot loader and kernel"},
		{"/etc", "system configuration"},
		{"/proc", "kernel process filesystem"},
		{"/sys", "kernel sysfs"},
		{"/dev", "device files"},
		{"/var/lib/dpkg", "package manager database"},
		{"/var/lib/rpm", "package manager database"},
	}

	for _, p := range protectedPrefixes {
		if absPath == p.prefix || strings.HasPrefix(absPath, p.prefix+"/") {
			return p.reason
		}
	}

	return isProtectedUserPath(absPath)
}

// --- Windows protected paths ---

func isProtectedPathWindows(absPath string) string {
	absLower := strings.ToLower(absPath)

	protectedPrefixes := []struct {
		prefix string
		reason string
	}{
		{`c:\windows`, "Windows system directory"},
		{`c:\program files`, "installed program files"},
		{`c:\program files (x86)`, "installed program files (32-bit)"},
		{`c:\programdata`, "system program data"},
	}

	for _, p := range protectedPrefixes {
		if absLower == p.prefix || strings.HasPrefix(absLower, p.prefix+`\`) {
			return p.reason
		}
	}

	return ""
}

// --- Sensitive user paths (cross-platform) ---

func isProtectedUserPath(absPath string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	// The assistant's own data directory: deleting the database or skill
	// files from inside a tool call is catastrophic self-harm.
	for _, dataDir := range neoDataDirs(home) {
		if absPath == dataDir || strings.HasPrefix(absPath, dataDir+"/") {
			return "the assistant's own data directory - deleting this would destroy all agent state"
		}
	}

	sensitiveRelPaths := []struct {
		rel    string
		reason string
	}{
		{".ssh", "SSH keys and configuration"},
		{".gnupg", "GPG keys and configuration"},
		{".aws/credentials", "AWS credentials"},
		{".kube/config", "Kubernetes credentials"},
		{".docker/config.json", "Docker registry credentials"},
	}

	for _, s := range sensitiveRelPaths {
		protected := filepath.Join(home, s.rel)
		if absPath == protected || strings.HasPrefix(absPath, protected+"/") {
			return s.reason
		}
	}

	return ""
}

// neoDataDirs returns the data directory paths that must never be modified
// from inside a tool call.
func neoDataDirs(home string) []string {
	if envDir := os.Getenv("NEO_DATA_DIR"); envDir != "" {
		return []string{filepath.Clean(envDir)}
	}
	return []string{filepath.Join(home, ".neo")}
}
