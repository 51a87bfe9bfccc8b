// Package client talks to the push registration endpoints of the backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vssdeo/trustroots/pkg/push"
)

const registrationsPath = "/api/users/push/registrations"

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// Client implements push.RegistrationAPI over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	bearer     string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client. Pass one with a cookie jar to
// carry the session cookie.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBearerToken authenticates every request with the given token.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.bearer = token }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "RegistrationClient")
	return c
}

// Register adds a registration for the signed-in user.
func (c *Client) Register(ctx context.Context, req push.RegisterRequest) (*push.User, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registration: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.baseURL+registrationsPath, body)
}

// Unregister removes token from the signed-in user.
func (c *Client) Unregister(ctx context.Context, token string) (*push.User, error) {
	endpoint := c.baseURL + registrationsPath + "/" + url.PathEscape(token)
	return c.do(ctx, http.MethodDelete, endpoint, nil)
}

// Me fetches the signed-in user's registrations.
func (c *Client) Me(ctx context.Context) (*push.User, error) {
	return c.do(ctx, http.MethodGet, c.baseURL+registrationsPath, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*push.User, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, registrationsPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil {
			statusErr.Message = errBody.Error
		}
		c.logger.Warn("Registration request rejected", "method", method, "status", resp.StatusCode)
		return nil, statusErr
	}

	var out push.UserResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode user response: %w", err)
	}
	return &out.User, nil
}
