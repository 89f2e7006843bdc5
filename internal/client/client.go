// Package client is an HTTP client for the auth API. A Session refreshes an
// expired access token transparently and replays the request that hit the
// expiry.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"go.uber.org/zap"

	"github.com/rryowa/vidauth/internal/models"
	"github.com/rryowa/vidauth/internal/util"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL        string
	refreshTimeout time.Duration
	requestTimeout time.Duration
	transport      http.RoundTripper
	log            *zap.SugaredLogger
}

type Option func(*Client)

func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.log = log
	}
}

func New(cfg *util.ClientConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:        cfg.ServerURL,
		refreshTimeout: cfg.RefreshTimeout,
		requestTimeout: cfg.RequestTimeout,
		transport:      http.DefaultTransport,
		log:            zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*models.Profile, error) {
	httpReq, err := newJSONRequest(ctx, http.MethodPost, c.baseURL+"/users/register", req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient(nil).Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	var profile models.Profile
	if err := decodeResponse(resp, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Login authenticates and returns a Session holding the auth cookies. Each
// Session has its own cookie jar and refresh Coordinator.
func (c *Client) Login(ctx context.Context, login, password string) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	s := &Session{
		baseURL: c.baseURL,
		http:    c.httpClient(jar),
		log:     c.log,
	}
	s.coord = NewCoordinator(s.refreshTokens, c.refreshTimeout)

	req, err := newJSONRequest(ctx, http.MethodPost, c.baseURL+models.LoginPath,
		models.LoginRequest{Login: login, Password: password})
	if err != nil {
		return nil, err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	var out models.LoginResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	s.user = out.User

	c.log.Infow("Logged in", "handle", out.User.Handle)
	return s, nil
}

func (c *Client) httpClient(jar http.CookieJar) *http.Client {
	return &http.Client{
		Transport: c.transport,
		Jar:       jar,
		Timeout:   c.requestTimeout,
	}
}

func newJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// decodeResponse closes resp.Body. On success the envelope's data is decoded
// into out when out is non-nil.
func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	var envelope struct {
		models.APIResponse
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{StatusCode: resp.StatusCode, Message: envelope.Message}
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
