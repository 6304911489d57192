package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/secureshare/secureshare/internal/auth"
	"github.com/secureshare/secureshare/internal/database"
	"github.com/secureshare/secureshare/internal/handlers"
	"github.com/secureshare/secureshare/internal/ratelimit"
	"github.com/secureshare/secureshare/internal/routes"
	"github.com/secureshare/secureshare/internal/services"
	"github.com/secureshare/secureshare/internal/session"
	pkglogger "github.com/secureshare/secureshare/pkg/logger"
)

// SentEmail is a captured outbound message
type SentEmail struct {
	To    string
	Token string
	Kind  string // "verification" or "reset"
}

// MockEmailService captures sent emails for test assertions instead of
// talking to SES.
type MockEmailService struct {
	mu   sync.Mutex
	Sent []SentEmail
}

func (m *MockEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.record(SentEmail{To: email, Token: token, Kind: "verification"})
	return nil
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.record(SentEmail{To: email, Token: token, Kind: "reset"})
	return nil
}

func (m *MockEmailService) record(e SentEmail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, e)
}

// LastEmail returns the most recent email of the given kind, or nil.
func (m *MockEmailService) LastEmail(kind string) *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Sent) - 1; i >= 0; i-- {
		if m.Sent[i].Kind == kind {
			return &m.Sent[i]
		}
	}
	return nil
}

// TestServer wraps an httptest.Server with the full application wired
// against a real database and a captured email outbox.
type TestServer struct {
	Server *httptest.Server
	Email  *MockEmailService
	Repos  *Repos

	CSRFManager *auth.CSRFTokenManager
	Sessions    session.Store
	TOTP        *auth.TOTPManager
}

// NewTestServer builds the application stack the same way main does, with
// in-memory session and rate-limit stores and no real SES.
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	auditLogger := pkglogger.NewAuditLogger(logger)

	repos := NewRepos(db)
	mockEmail := &MockEmailService{}

	tokenManager := auth.NewTokenManager("test-secret-32-characters-long-for-testing", 15*time.Minute, 7*24*time.Hour)

	totpManager, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "SecureShareTest")
	if err != nil {
		panic(fmt.Sprintf("totp manager: %v", err))
	}

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{})
	csrfManager := auth.NewCSRFTokenManager(30 * time.Minute)
	guard := ratelimit.NewGuard(ratelimit.NewMemoryStore(), nil, logger)
	sessionStore := session.NewMemoryStore()

	verificationService := services.NewVerificationService(
		repos.Users, repos.Users, repos.Tokens, repos.Revoked,
		mockEmail, guard, logger, auditLogger,
	)
	authService := services.NewAuthService(
		repos.Users, repos.Revoked, repos.Devices, sessionStore, verificationService,
		tokenManager, totpManager, guard, timingDelay, logger, auditLogger,
	)
	twoFactorService := services.NewTwoFactorService(repos.Users, repos.Devices, totpManager, logger, auditLogger)
	userService := services.NewUserService(
		repos.Users, repos.Revoked, repos.Devices, verificationService,
		guard, logger, auditLogger,
	)

	cookieCfg := auth.CookieConfig{}
	authHandler := handlers.NewAuthHandler(authService, csrfManager, nil, cookieCfg, 15*time.Minute, 7*24*time.Hour)
	twoFactorHandler := handlers.NewTwoFactorHandler(twoFactorService, cookieCfg)
	accountHandler := handlers.NewAccountHandler(userService, cookieCfg)
	verificationHandler := handlers.NewVerificationHandler(verificationService)

	router := routes.NewRouter(authHandler, twoFactorHandler, accountHandler, verificationHandler, routes.Options{
		TokenManager:      tokenManager,
		CSRFManager:       csrfManager,
		RevocationChecker: repos.Revoked,
		AllowedOrigins:    []string{"http://localhost:3000"},
		Logger:            logger,
		Health:            db,
	})

	return &TestServer{
		Server:      httptest.NewServer(router),
		Email:       mockEmail,
		Repos:       repos,
		CSRFManager: csrfManager,
		Sessions:    sessionStore,
		TOTP:        totpManager,
	}
}

// Close shuts down the server and the CSRF cleanup goroutine.
func (ts *TestServer) Close() {
	ts.Server.Close()
	ts.CSRFManager.Close()
}

// Client is a cookie-keeping HTTP client for one simulated browser.
type Client struct {
	http    *http.Client
	baseURL string
	// CSRFToken, once fetched, rides along on state-changing requests.
	CSRFToken string
}

// NewClient creates a client with its own cookie jar.
func (ts *TestServer) NewClient() *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		http:    &http.Client{Jar: jar},
		baseURL: ts.Server.URL,
	}
}

// PostJSON sends a JSON POST and decodes the JSON response body.
func (c *Client) PostJSON(path string, body any) (*http.Response, map[string]any, error) {
	return c.doJSON(http.MethodPost, path, body)
}

// PutJSON sends a JSON PUT
func (c *Client) PutJSON(path string, body any) (*http.Response, map[string]any, error) {
	return c.doJSON(http.MethodPut, path, body)
}

// Delete sends a JSON DELETE
func (c *Client) Delete(path string, body any) (*http.Response, map[string]any, error) {
	return c.doJSON(http.MethodDelete, path, body)
}

// Get sends a GET and decodes the JSON response body.
func (c *Client) Get(path string) (*http.Response, map[string]any, error) {
	return c.doJSON(http.MethodGet, path, nil)
}

func (c *Client) doJSON(method, path string, body any) (*http.Response, map[string]any, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://localhost:3000")
	if c.CSRFToken != "" {
		req.Header.Set("X-CSRF-Token", c.CSRFToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	decoded := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, err
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}

	return resp, decoded, nil
}

// FetchCSRFToken grabs a token for the logged-in user and keeps it on the
// client for subsequent mutating requests.
func (c *Client) FetchCSRFToken() error {
	resp, body, err := c.Get("/csrf")
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("csrf fetch returned %d", resp.StatusCode)
	}
	token, _ := body["csrf_token"].(string)
	if token == "" {
		return fmt.Errorf("no csrf_token in response")
	}
	c.CSRFToken = token
	return nil
}
