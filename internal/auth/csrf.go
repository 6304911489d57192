package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"
)

// CSRFTokenLength is the length of an encoded token: 32 random bytes as
// lowercase hex.
const CSRFTokenLength = 64

// csrfTokenEntry stores token metadata
type csrfTokenEntry struct {
	userID string
	expiry time.Time
}

// CSRFTokenManager issues per-user anti-forgery tokens and validates them on
// state-changing requests.
type CSRFTokenManager struct {
	validTokens map[string]*csrfTokenEntry // token -> entry (userID + expiry)
	mu          sync.RWMutex
	tokenTTL    time.Duration
	stopCh      chan struct{}
}

// NewCSRFTokenManager creates a new CSRF token manager
func NewCSRFTokenManager(ttl time.Duration) *CSRFTokenManager {
	manager := &CSRFTokenManager{
		validTokens: make(map[string]*csrfTokenEntry),
		tokenTTL:    ttl,
		stopCh:      make(chan struct{}),
	}

	go manager.cleanupExpiredTokens()

	return manager
}

// GenerateToken creates a new CSRF token bound to a specific user
func (m *CSRFTokenManager) GenerateToken(userID string) (string, error) {
	randomBytes := make([]byte, 32)
	_, err := rand.Read(randomBytes)
	if err != nil {
		return "", err
	}

	token := hex.EncodeToString(randomBytes)

	m.mu.Lock()
	m.validTokens[token] = &csrfTokenEntry{
		userID: userID,
		expiry: time.Now().Add(m.tokenTTL),
	}
	m.mu.Unlock()

	return token, nil
}

// TokenTTL returns the configured token lifetime.
func (m *CSRFTokenManager) TokenTTL() time.Duration {
	return m.tokenTTL
}

// ValidateToken checks a CSRF token: well-formed, unexpired, and bound to
// the acting user. Lookup of the user binding is compared in constant time
// to avoid timing side-channels.
func (m *CSRFTokenManager) ValidateToken(token, userID string) bool {
	if !wellFormedCSRFToken(token) {
		return false
	}

	m.mu.RLock()
	entry, exists := m.validTokens[token]
	m.mu.RUnlock()

	if !exists {
		return false
	}

	if subtle.ConstantTimeCompare([]byte(entry.userID), []byte(userID)) != 1 {
		return false
	}

	if time.Now().After(entry.expiry) {
		m.mu.Lock()
		delete(m.validTokens, token)
		m.mu.Unlock()
		return false
	}

	return true
}

// RevokeToken invalidates a CSRF token
func (m *CSRFTokenManager) RevokeToken(token string) {
	m.mu.Lock()
	delete(m.validTokens, token)
	m.mu.Unlock()
}

// Close stops the background cleanup goroutine.
func (m *CSRFTokenManager) Close() {
	close(m.stopCh)
}

// wellFormedCSRFToken enforces fixed length and lowercase-hex charset before
// any map lookup happens.
func wellFormedCSRFToken(token string) bool {
	if len(token) != CSRFTokenLength {
		return false
	}
	for _, c := range token {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// cleanupExpiredTokens periodically removes expired tokens
func (m *CSRFTokenManager) cleanupExpiredTokens() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			now := time.Now()
			for token, entry := range m.validTokens {
				if now.After(entry.expiry) {
					delete(m.validTokens, token)
				}
			}
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}
