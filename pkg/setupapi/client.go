package setupapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Status is the backend's view of how far setup has progressed.
type Status struct {
	NeedsSetup   bool `json:"needsSetup"`
	DBConnected  bool `json:"dbConnected"`
	AdminCreated bool `json:"adminCreated"`
	HasProducts  bool `json:"hasProducts"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type resultResponse struct {
	Success         bool   `json:"success"`
	ProductsCreated int    `json:"productsCreated"`
	Error           string `json:"error"`
	Details         string `json:"details"`
}

// APIError is a non-2xx reply from the setup backend.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: HTTP %d", e.Endpoint, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// Client talks to the store backend's /health and /api/setup endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.httpClient = c } }

func WithLogger(l zerolog.Logger) Option { return func(cl *Client) { cl.log = l } }

// New returns a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q: expected http(s)://host", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(u.String(), "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

// Health returns nil when GET /health answers {"status":"ok"}.
func (c *Client) Health(ctx context.Context) error {
	var out healthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("backend health check failed: status %q", out.Status)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.do(ctx, http.MethodGet, "/api/setup/status", nil, &out)
	return out, err
}

// TestDatabase asks the backend to connect to the MongoDB instance at uri.
func (c *Client) TestDatabase(ctx context.Context, uri string) error {
	var out resultResponse
	if err := c.do(ctx, http.MethodPost, "/api/setup/test-database", map[string]string{"uri": uri}, &out); err != nil {
		return err
	}
	return out.check("test-database")
}

func (c *Client) CreateAdmin(ctx context.Context, email, password string) error {
	var out resultResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/setup/create-admin", body, &out); err != nil {
		return err
	}
	return out.check("create-admin")
}

// InstallSampleData replaces the catalog with the bundled products and
// returns how many were created.
func (c *Client) InstallSampleData(ctx context.Context) (int, error) {
	var out resultResponse
	if err := c.do(ctx, http.MethodPost, "/api/setup/install-sample-data", nil, &out); err != nil {
		return 0, err
	}
	if err := out.check("install-sample-data"); err != nil {
		return 0, err
	}
	return out.ProductsCreated, nil
}

func (r resultResponse) check(endpoint string) error {
	if r.Success {
		return nil
	}
	msg := r.Error
	if msg == "" {
		msg = "backend did not report success"
	}
	return fmt.Errorf("%s: %s", endpoint, msg)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Debug().Str("method", method).Str("path", path).Msg("setup api request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Endpoint: path, StatusCode: resp.StatusCode}
		var rr resultResponse
		if json.Unmarshal(data, &rr) == nil {
			apiErr.Message = rr.Error
			apiErr.Details = rr.Details
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", path, err)
	}
	return nil
}
