package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/namecraft/auth-service/internal/transport/http/middleware"
)

const (
	csrfHeader     = "X-CSRF-Token"
	defaultTimeout = 10 * time.Second
)

// Credentials is the expiry metadata returned alongside the cookie-borne tokens.
type Credentials struct {
	SessionID       string    `json:"session_id"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	CSRFToken       string    `json:"csrf_token"`
}

// AccountInfo mirrors the user summary the API returns.
type AccountInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Plan        string `json:"plan"`
}

type loginResponse struct {
	User            AccountInfo `json:"user"`
	SessionID       string      `json:"session_id"`
	AccessExpiresAt time.Time   `json:"access_expires_at"`
	CSRFToken       string      `json:"csrf_token"`
}

type sessionResponse struct {
	User AccountInfo `json:"user"`
	Session struct {
		ID        string    `json:"id"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"session"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

// APIClient talks to the auth HTTP API. Credentials live in the cookie jar;
// the CSRF companion value is echoed in a header on every mutating call.
type APIClient struct {
	baseURL string
	http    *http.Client

	mu   sync.RWMutex
	csrf string
}

// APIClientOption customizes the APIClient.
type APIClientOption func(*APIClient)

// WithHTTPClient replaces the underlying HTTP client. The cookie jar is
// preserved unless the replacement brings its own.
func WithHTTPClient(h *http.Client) APIClientOption {
	return func(c *APIClient) {
		if h != nil {
			if h.Jar == nil {
				h.Jar = c.http.Jar
			}
			c.http = h
		}
	}
}

// NewAPIClient constructs an APIClient for the given base URL.
func NewAPIClient(baseURL string, opts ...APIClientOption) (*APIClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	client := &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Jar:     jar,
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// CSRFToken returns the current CSRF companion value.
func (c *APIClient) CSRFToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.csrf
}

func (c *APIClient) setCSRF(token string) {
	c.mu.Lock()
	c.csrf = token
	c.mu.Unlock()
}

// AccessToken reads the held access credential from the cookie jar, or ""
// when none is present. Used for the unverified integrity comparison only.
func (c *APIClient) AccessToken() string {
	if c.http.Jar == nil {
		return ""
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	for _, cookie := range c.http.Jar.Cookies(base) {
		if cookie.Name == middleware.AccessTokenCookie {
			return cookie.Value
		}
	}
	return ""
}

// Login exchanges credentials for a cookie-borne session.
func (c *APIClient) Login(ctx context.Context, email, password string) (AccountInfo, Credentials, error) {
	var out loginResponse
	err := c.call(ctx, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return AccountInfo{}, Credentials{}, err
	}

	c.setCSRF(out.CSRFToken)
	return out.User, Credentials{
		SessionID:       out.SessionID,
		AccessExpiresAt: out.AccessExpiresAt,
		CSRFToken:       out.CSRFToken,
	}, nil
}

// Register creates a new account.
func (c *APIClient) Register(ctx context.Context, email, displayName, password string) (AccountInfo, error) {
	var out struct {
		User AccountInfo `json:"user"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":        email,
		"display_name": displayName,
		"password":     password,
	}, &out)
	return out.User, err
}

// Refresh rotates the refresh token and returns the new expiry metadata.
func (c *APIClient) Refresh(ctx context.Context) (Credentials, error) {
	var out Credentials
	if err := c.call(ctx, http.MethodPost, "/api/v1/auth/refresh", nil, &out); err != nil {
		return Credentials{}, err
	}
	c.setCSRF(out.CSRFToken)
	return out, nil
}

// Logout ends the current session server-side.
func (c *APIClient) Logout(ctx context.Context) error {
	err := c.call(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil)
	c.setCSRF("")
	return err
}

// Session fetches the authenticated identity.
func (c *APIClient) Session(ctx context.Context) (AccountInfo, string, error) {
	var out sessionResponse
	if err := c.call(ctx, http.MethodGet, "/api/v1/auth/session", nil, &out); err != nil {
		return AccountInfo{}, "", err
	}
	return out.User, out.Session.ID, nil
}

func (c *APIClient) call(ctx context.Context, method, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && method != http.MethodHead {
		if csrf := c.CSRFToken(); csrf != "" {
			req.Header.Set(csrfHeader, csrf)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	return c.mapError(resp)
}

// mapError converts an HTTP error response into the client error taxonomy.
func (c *APIClient) mapError(resp *http.Response) error {
	var envelope errorEnvelope
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&envelope)
	detail := strings.ToLower(envelope.Error)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		switch {
		case strings.Contains(detail, "expired"):
			return ErrTokenExpired
		case strings.Contains(detail, "revoked"):
			return ErrTokenRevoked
		case strings.Contains(detail, "credentials"):
			return ErrInvalidCredentials
		default:
			return ErrTokenExpired
		}
	case http.StatusLocked:
		return ErrAccountLocked
	case http.StatusForbidden:
		if strings.Contains(detail, "csrf") {
			return ErrCSRFMismatch
		}
		return fmt.Errorf("forbidden: %s", envelope.Error)
	case http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if header := resp.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.Atoi(header); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitedError{RetryAfter: retryAfter}
	default:
		if envelope.Error != "" {
			return fmt.Errorf("http %d: %s", resp.StatusCode, envelope.Error)
		}
		return fmt.Errorf("http %d", resp.StatusCode)
	}
}
