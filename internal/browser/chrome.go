package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// BrowserKind identifies the type of Chromium-based browser.
type BrowserKind string

const (
	BrowserChrome   BrowserKind = "chrome"
	BrowserBrave    BrowserKind = "brave"
	BrowserEdge     BrowserKind = "edge"
	BrowserChromium BrowserKind = "chromium"
	BrowserCanary   BrowserKind = "canary"
	BrowserCustom   BrowserKind = "custom"
)

// BrowserExecutable is a browser binary found on the system.
type BrowserExecutable struct {
	Kind BrowserKind
	Path string
}

type chromeCandidate struct {
	kind BrowserKind
	path string
}

// FindChromeExecutable finds a Chrome/Chromium binary on the system.
// A non-empty customPath must exist; otherwise the user's default
// browser is preferred, then well-known install paths.
func FindChromeExecutable(customPath string) (*BrowserExecutable, error) {
	if customPath != "" {
		if !fileExists(customPath) {
			return nil, fmt.Errorf("browser executable not found: %s", customPath)
		}
		return &BrowserExecutable{Kind: BrowserCustom, Path: customPath}, nil
	}

	if exe := detectDefaultChromium(); exe != nil {
		return exe, nil
	}

	switch runtime.GOOS {
	case "darwin":
		return findChromeMac(), nil
	case "linux":
		return findChromeLinux(), nil
	case "windows":
		return findChromeWindows(), nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// IsChromeReachable checks whether a Chrome CDP endpoint is responding.
func IsChromeReachable(cdpURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	versionURL := strings.TrimSuffix(cdpURL, "/") + "/json/version"
	req, err := http.NewRequestWithContext(ctx, "GET", versionURL, nil)
	if err != nil {
		return false
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// GetChromeWebSocketURL gets the CDP WebSocket URL from a running Chrome.
func GetChromeWebSocketURL(cdpURL string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	versionURL := strings.TrimSuffix(cdpURL, "/") + "/json/version"
	req, err := http.NewRequestWithContext(ctx, "GET", versionURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return "", err
	}

	if version.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("no webSocketDebuggerUrl in response")
	}

	return version.WebSocketDebuggerURL, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func findChromeMac() *BrowserExecutable {
	home := os.Getenv("HOME")
	candidates := []chromeCandidate{
		{BrowserChrome, "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"},
		{BrowserChrome, filepath.Join(home, "Applications/Google Chrome.app/Contents/MacOS/Google Chrome")},
		{BrowserBrave, "/Applications/Brave Browser.app/Contents/MacOS/Brave Browser"},
		{BrowserBrave, filepath.Join(home, "Applications/Brave Browser.app/Contents/MacOS/Brave Browser")},
		{BrowserEdge, "/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"},
		{BrowserEdge, filepath.Join(home, "Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge")},
		{BrowserChromium, "/Applications/Chromium.app/Contents/MacOS/Chromium"},
		{BrowserChromium, filepath.Join(home, "Applications/Chromium.app/Contents/MacOS/Chromium")},
		{BrowserCanary, "/Applications/Google Chrome Canary.app/Contents/MacOS/Google Chrome Canary"},
	}
	return firstExisting(candidates)
}

func findChromeLinux() *BrowserExecutable {
	candidates := []chromeCandidate{
		{BrowserChrome, "/usr/bin/google-chrome"},
		{BrowserChrome, "/usr/bin/google-chrome-stable"},
		{BrowserChrome, "/usr/bin/chrome"},
		{BrowserBrave, "/usr/bin/brave-browser"},
		{BrowserBrave, "/usr/bin/brave-browser-stable"},
		{BrowserBrave, "/usr/bin/brave"},
		{BrowserBrave, "/snap/bin/brave"},
		{BrowserEdge, "/usr/bin/microsoft-edge"},
		{BrowserEdge, "/usr/bin/microsoft-edge-stable"},
		{BrowserChromium, "/usr/bin/chromium"},
		{BrowserChromium, "/usr/bin/chromium-browser"},
		{BrowserChromium, "/snap/bin/chromium"},
	}
	return firstExisting(candidates)
}

func findChromeWindows() *BrowserExecutable {
	localAppData := os.Getenv("LOCALAPPDATA")
	programFiles := os.Getenv("ProgramFiles")
	if programFiles == "" {
		programFiles = "C:\\Program Files"
	}
	programFilesX86 := os.Getenv("ProgramFiles(x86)")
	if programFilesX86 == "" {
		programFilesX86 = "C:\\Program Files (x86)"
	}

	var candidates []chromeCandidate
	if localAppData != "" {
		candidates = append(candidates,
			chromeCandidate{BrowserChrome, filepath.Join(localAppData, "Google", "Chrome", "Application", "chrome.exe")},
			chromeCandidate{BrowserBrave, filepath.Join(localAppData, "BraveSoftware", "Brave-Browser", "Application", "brave.exe")},
			chromeCandidate{BrowserEdge, filepath.Join(localAppData, "Microsoft", "Edge", "Application", "msedge.exe")},
			chromeCandidate{BrowserCanary, filepath.Join(localAppData, "Google", "Chrome SxS", "Application", "chrome.exe")},
		)
	}
	candidates = append(candidates,
		chromeCandidate{BrowserChrome, filepath.Join(programFiles, "Google", "Chrome", "Application", "chrome.exe")},
		chromeCandidate{BrowserChrome, filepath.Join(programFilesX86, "Google", "Chrome", "Application", "chrome.exe")},
		chromeCandidate{BrowserBrave, filepath.Join(programFiles, "BraveSoftware", "Brave-Browser", "Application", "brave.exe")},
		chromeCandidate{BrowserEdge, filepath.Join(programFiles, "Microsoft", "Edge", "Application", "msedge.exe")},
	)
	return firstExisting(candidates)
}

func firstExisting(candidates []chromeCandidate) *BrowserExecutable {
	for _, c := range candidates {
		if fileExists(c.path) {
			return &BrowserExecutable{Kind: c.kind, Path: c.path}
		}
	}
	return nil
}

// detectDefaultChromium tries to detect the system's default Chromium
// browser so automation uses the browser the user already trusts.
func detectDefaultChromium() *BrowserExecutable {
	switch runtime.GOOS {
	case "darwin":
		return detectDefaultChromiumMac()
	case "linux":
		return detectDefaultChromiumLinux()
	default:
		return nil
	}
}

func detectDefaultChromiumMac() *BrowserExecutable {
	cmd := exec.Command("osascript", "-e", `
		use framework "AppKit"
		set ws to current application's NSWorkspace's sharedWorkspace()
		set defaultBrowser to ws's URLForApplicationToOpenURL:(current application's NSURL's URLWithString:"https://")
		if defaultBrowser is missing value then return ""
		set bundlePath to defaultBrowser's |path|() as text
		return bundlePath
	`)
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	bundlePath := strings.TrimSpace(string(out))
	if bundlePath == "" {
		return nil
	}

	chromiumBundles := map[string]BrowserKind{
		"Google Chrome.app":        BrowserChrome,
		"Google Chrome Canary.app": BrowserCanary,
		"Brave Browser.app":        BrowserBrave,
		"Microsoft Edge.app":       BrowserEdge,
		"Chromium.app":             BrowserChromium,
		"Arc.app":                  BrowserChromium,
		"Vivaldi.app":              BrowserChromium,
		"Opera.app":                BrowserChromium,
	}

	for name, kind := range chromiumBundles {
		if strings.Contains(bundlePath, name) {
			exeName := strings.TrimSuffix(name, ".app")
			exePath := filepath.Join(bundlePath, "Contents", "MacOS", exeName)
			if fileExists(exePath) {
				return &BrowserExecutable{Kind: kind, Path: exePath}
			}
		}
	}

	return nil
}

func detectDefaultChromiumLinux() *BrowserExecutable {
	cmd := exec.Command("xdg-settings", "get", "default-web-browser")
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	desktopID := strings.TrimSpace(string(out))
	if desktopID == "" {
		return nil
	}

	chromiumDesktops := map[string]BrowserKind{
		"google-chrome.desktop":        BrowserChrome,
		"google-chrome-stable.desktop": BrowserChrome,
		"brave-browser.desktop":        BrowserBrave,
		"microsoft-edge.desktop":       BrowserEdge,
		"chromium.desktop":             BrowserChromium,
		"chromium-browser.desktop":     BrowserChromium,
	}

	kind, ok := chromiumDesktops[desktopID]
	if !ok {
		return nil
	}

	exe := findChromeLinux()
	if exe != nil {
		exe.Kind = kind
	}
	return exe
}
