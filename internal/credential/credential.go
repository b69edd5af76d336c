// Package credential encrypts secrets at rest with AES-256-GCM.
package credential

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/philonis/neo/internal/db"
)

const encPrefix = "enc:"

// IsEncrypted returns true if the value has the "enc:" prefix.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, encPrefix)
}

// Encrypt encrypts a plaintext string and prepends the "enc:" prefix.
// Returns empty string for empty input.
func Encrypt(plaintext string, key []byte) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	ct, err := encryptString(plaintext, key)
	if err != nil {
		return "", err
	}
	return encPrefix + ct, nil
}

// Decrypt decrypts an "enc:"-prefixed value. Values without the prefix
// are returned unchanged: they predate encryption.
func Decrypt(value string, key []byte) (string, error) {
	if value == "" {
		return "", nil
	}
	if !IsEncrypted(value) {
		return value, nil
	}
	return decryptString(strings.TrimPrefix(value, encPrefix), key)
}

// Login holds one site's stored login pair.
type Login struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Manager stores named secrets encrypted in the database.
type Manager struct {
	store *db.CredentialStore
	key   []byte
}

// NewManager creates a credential manager over the given store.
func NewManager(store *db.CredentialStore, key []byte) *Manager {
	return &Manager{store: store, key: key}
}

// Set encrypts and stores a named secret.
func (m *Manager) Set(name, value string) error {
	if name == "" {
		return fmt.Errorf("credential name is required")
	}
	enc, err := Encrypt(value, m.key)
	if err != nil {
		return err
	}
	return m.store.Set(name, enc)
}

// Get returns the decrypted secret, or "" if absent.
func (m *Manager) Get(name string) (string, error) {
	stored, err := m.store.Get(name)
	if err != nil || stored == "" {
		return "", err
	}
	return Decrypt(stored, m.key)
}

// List returns the stored secret names. Values are never listed.
func (m *Manager) List() ([]string, error) {
	return m.store.List()
}

// Delete removes a named secret.
func (m *Manager) Delete(name string) error {
	return m.store.Delete(name)
}

// SetLogin stores a username/password pair for a site domain.
func (m *Manager) SetLogin(domain, username, password string) error {
	payload, err := json.Marshal(Login{Username: username, Password: password})
	if err != nil {
		return err
	}
	return m.Set(domain, string(payload))
}

// GetLogin returns the stored login for a domain, or nil if absent.
func (m *Manager) GetLogin(domain string) (*Login, error) {
	value, err := m.Get(domain)
	if err != nil || value == "" {
		return nil, err
	}
	var login Login
	if err := json.Unmarshal([]byte(value), &login); err != nil {
		return nil, fmt.Errorf("stored credential for %s is not a login pair: %w", domain, err)
	}
	return &login, nil
}

// Lookup resolves a domain's login pair, reporting ok=false when none
// is stored or it cannot be decrypted.
func (m *Manager) Lookup(domain string) (username, password string, ok bool) {
	login, err := m.GetLogin(domain)
	if err != nil || login == nil {
		return "", "", false
	}
	return login.Username, login.Password, true
}
