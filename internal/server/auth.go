package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/philonis/neo/internal/db"
)

const (
	settingTokenSecret = "server.token_secret"
	settingPairingHash = "server.pairing_hash"

	tokenIssuer = "neo"
	tokenTTL    = 30 * 24 * time.Hour
)

// authenticator issues and verifies the bearer tokens that protect the
// local API. A device obtains a token once by presenting the pairing code;
// only the bcrypt hash of the code is persisted, never the code itself.
type authenticator struct {
	settings *db.SettingStore
	secret   []byte

	mu          sync.Mutex
	pairingHash []byte
}

// newAuthenticator loads the token signing secret from the settings store,
// generating and persisting one on first use.
func newAuthenticator(settings *db.SettingStore) (*authenticator, error) {
	if settings == nil {
		return nil, errors.New("server: settings store is required")
	}
	secret, err := settings.Get(settingTokenSecret)
	if err != nil {
		return nil, err
	}
	if secret == "" {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		secret = hex.EncodeToString(raw)
		if err := settings.Set(settingTokenSecret, secret); err != nil {
			return nil, err
		}
	}
	hash, err := settings.Get(settingPairingHash)
	if err != nil {
		return nil, err
	}
	return &authenticator{
		settings:    settings,
		secret:      []byte(secret),
		pairingHash: []byte(hash),
	}, nil
}

// ensurePairing generates a pairing code when none exists (or reset is
// set) and stores its hash. The plaintext code is returned exactly once
// so the caller can show it; later calls return "".
func (a *authenticator) ensurePairing(reset bool) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pairingHash) > 0 && !reset {
		return "", nil
	}
	code, err := generatePairingCode()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	if err := a.settings.Set(settingPairingHash, string(hash)); err != nil {
		return "", err
	}
	a.pairingHash = hash
	return code, nil
}

// generatePairingCode returns a short random code like "7f3a-c29b-d810".
func generatePairingCode() (string, error) {
	raw := make([]byte, 6)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	s := hex.EncodeToString(raw)
	return s[0:4] + "-" + s[4:8] + "-" + s[8:12], nil
}

// pair exchanges a pairing code for a signed token.
func (a *authenticator) pair(code string) (string, error) {
	a.mu.Lock()
	hash := a.pairingHash
	a.mu.Unlock()
	if len(hash) == 0 {
		return "", errors.New("pairing not initialized")
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(code)); err != nil {
		return "", errors.New("invalid pairing code")
	}
	return a.issueToken()
}

func (a *authenticator) issueToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": tokenIssuer,
		"sub": "owner",
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *authenticator) verify(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// middleware rejects requests without a valid bearer token. WebSocket
// clients may pass the token as a query parameter since browsers cannot
// set headers on socket upgrades.
func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		if err := a.verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
