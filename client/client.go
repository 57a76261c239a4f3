// Package client talks to the dashboard's REST backend: the auth routes and
// the employee/project CRUD routes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minus-twelve/roster/types"
	"github.com/sirupsen/logrus"
)

// SessionSource supplies bearer tokens and reacts to auth failures.
// *roster.Manager satisfies it.
type SessionSource interface {
	Token(ctx context.Context) (string, bool)
	Refresh(ctx context.Context) (types.Session, error)
	Logout(ctx context.Context)
}

type Client struct {
	baseURL string
	http    *http.Client
	log     logrus.FieldLogger

	mu      sync.RWMutex
	session SessionSource
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithLogger(l logrus.FieldLogger) Option { return func(c *Client) { c.log = l } }

func New(cfg types.APIConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind attaches the session whose token authenticates requests. The
// session's manager usually holds this client as its Authenticator, hence
// the late binding.
func (c *Client) Bind(s SessionSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

func (c *Client) source() SessionSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

type envelope struct {
	Data       json.RawMessage   `json:"data"`
	Message    string            `json:"message"`
	Pagination *types.Pagination `json:"pagination"`
}

type response struct {
	status int
	body   envelope
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (r *response) err() error {
	return &types.APIError{Status: r.status, Message: r.body.Message}
}

// Routes that must not trigger a refresh on 401, and the subset that must
// not force a logout on 403.
var (
	noRefreshRoutes = []string{"/auth/login", "/auth/register", "/auth/refresh-token"}
	noLogoutRoutes  = []string{"/auth/login", "/auth/register"}
)

func matches(path string, routes []string) bool {
	for _, r := range routes {
		if strings.HasPrefix(path, r) {
			return true
		}
	}
	return false
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte, token string) (*response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Session-Valid", "true")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", types.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", types.ErrNetwork, path, err)
	}

	out := &response{status: resp.StatusCode}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out.body); err != nil && out.ok() {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return out, nil
}

func (c *Client) token(ctx context.Context) string {
	s := c.source()
	if s == nil {
		return ""
	}
	token, _ := s.Token(ctx)
	return token
}

// do sends one request with the session's token, applying the refresh and
// forced-logout rules for auth failures.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in any) (*envelope, error) {
	return c.doWithToken(ctx, method, path, query, in, c.token(ctx))
}

func (c *Client) doWithToken(ctx context.Context, method, path string, query url.Values, in any, token string) (*envelope, error) {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return nil, err
		}
	}

	resp, err := c.send(ctx, method, path, query, payload, token)
	if err != nil {
		c.log.WithError(err).Error("API request failed")
		return nil, err
	}
	if resp.ok() {
		return &resp.body, nil
	}

	session := c.source()
	switch {
	case resp.status == http.StatusUnauthorized && session != nil && !matches(path, noRefreshRoutes):
		return c.retryAfterRefresh(ctx, session, method, path, query, payload, resp.err())
	case resp.status == http.StatusForbidden && session != nil && !matches(path, noLogoutRoutes):
		session.Logout(ctx)
		return nil, fmt.Errorf("%w: %w", types.ErrForbidden, resp.err())
	}
	return nil, resp.err()
}

func (c *Client) retryAfterRefresh(ctx context.Context, session SessionSource, method, path string, query url.Values, payload []byte, cause error) (*envelope, error) {
	if _, err := session.Refresh(ctx); err != nil {
		if !errors.Is(err, types.ErrSuperseded) {
			session.Logout(ctx)
		}
		return nil, fmt.Errorf("%w: %w", types.ErrSessionExpired, cause)
	}

	token, _ := session.Token(ctx)
	resp, err := c.send(ctx, method, path, query, payload, token)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		session.Logout(ctx)
		return nil, fmt.Errorf("%w: %w", types.ErrSessionExpired, resp.err())
	}
	return &resp.body, nil
}

func decode(env *envelope, out any) error {
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
