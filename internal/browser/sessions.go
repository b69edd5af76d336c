package browser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/philonis/neo/internal/db"
	"github.com/philonis/neo/internal/logging"
)

var domainRe = regexp.MustCompile(`://([^/]+)`)

// DomainKey reduces a URL to its second-level domain so one login
// session covers all of a site's subdomains: www.zhihu.com and
// zhuanlan.zhihu.com both key to "zhihu".
func DomainKey(rawURL string) string {
	m := domainRe.FindStringSubmatch(rawURL)
	if m == nil {
		return "default"
	}
	host := m[1]
	parts := strings.Split(host, ".")
	if len(parts) > 1 {
		return parts[len(parts)-2]
	}
	return host
}

// Sessions persists login sessions: storage-state JSON files on disk,
// indexed by domain in the database with a TTL. Expired sessions
// disappear on read and in Sweep.
type Sessions struct {
	dir   string
	index *db.BrowserSessionStore
	ttl   time.Duration
}

// NewSessions creates a session store writing state files under dir.
func NewSessions(dir string, index *db.BrowserSessionStore, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = SessionTTL
	}
	return &Sessions{dir: dir, index: index, ttl: ttl}
}

// Save writes a domain's storage state and indexes it with the TTL.
// Session cookies get the TTL as expiry so they survive a restore.
func (s *Sessions) Save(domain string, state *StorageState) (string, error) {
	if domain == "" {
		return "", fmt.Errorf("domain is required")
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return "", err
	}

	for i := range state.Cookies {
		if state.Cookies[i].Expires <= 0 {
			state.Cookies[i].Expires = SetCookieExpiry(s.ttl)
		}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, domain+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}

	if err := s.index.Save(domain, path, s.ttl); err != nil {
		return "", err
	}
	return path, nil
}

// Load returns a domain's saved storage state, or nil when none exists
// or it expired. A dangling index entry (file removed) is cleaned up.
func (s *Sessions) Load(domain string) (*StorageState, error) {
	sess, err := s.index.Get(domain)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	data, err := os.ReadFile(sess.StatePath)
	if err != nil {
		if os.IsNotExist(err) {
			_ = s.index.Delete(domain)
			return nil, nil
		}
		return nil, err
	}

	var state StorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("saved session for %s is corrupt: %w", domain, err)
	}
	return &state, nil
}

// Delete removes a domain's saved session.
func (s *Sessions) Delete(domain string) error {
	sess, err := s.index.Get(domain)
	if err == nil && sess != nil {
		_ = os.Remove(sess.StatePath)
	}
	return s.index.Delete(domain)
}

// List returns all indexed sessions, expired ones included.
func (s *Sessions) List() ([]db.BrowserSession, error) {
	return s.index.List()
}

// Sweep removes expired sessions and their state files, returning how
// many were cleared.
func (s *Sessions) Sweep() (int, error) {
	sessions, err := s.index.List()
	if err != nil {
		return 0, err
	}
	for _, sess := range sessions {
		if sess.Expired() {
			if err := os.Remove(sess.StatePath); err != nil && !os.IsNotExist(err) {
				logging.Warnf("[Browser] removing expired session file %s: %v", sess.StatePath, err)
			}
		}
	}
	n, err := s.index.PruneExpired()
	return int(n), err
}
