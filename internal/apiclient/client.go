// Package apiclient is an HTTP client for the SecureWatch decision API.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/securewatch/securewatch/internal/decision"
	"github.com/securewatch/securewatch/internal/incidents"
	"github.com/securewatch/securewatch/internal/security"
)

// ErrNotFound is returned when the API answers 404.
var ErrNotFound = errors.New("not found")

// Config holds the configuration for connecting to a SecureWatch server.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // sent on admin operations only
	Timeout     time.Duration
}

// Client is a pure HTTP client for the SecureWatch API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a new client.
func New(cfg Config) *Client {
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Code)
}

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// do makes an HTTP request and returns the raw response body.
func (c *Client) do(ctx context.Context, method, path string, body any, admin bool) ([]byte, http.Header, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin && c.cfg.AdminSecret != "" {
		req.Header.Set(security.AdminSecretHeader, c.cfg.AdminSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || (apiErr.Code == "" && apiErr.Message == "") {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return nil, nil, apiErr
	}
	return respBody, resp.Header, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, admin bool) error {
	raw, _, err := c.do(ctx, method, path, body, admin)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// AnalyzeLogin submits one login attempt for a decision.
func (c *Client) AnalyzeLogin(ctx context.Context, req decision.Request) (*decision.Result, error) {
	var res decision.Result
	if err := c.doJSON(ctx, http.MethodPost, "/security/analyze-login", req, &res, false); err != nil {
		return nil, err
	}
	return &res, nil
}

// History returns the incident ledger, newest first.
func (c *Client) History(ctx context.Context) ([]*incidents.Record, error) {
	var recs []*incidents.Record
	if err := c.doJSON(ctx, http.MethodGet, "/security/history", nil, &recs, false); err != nil {
		return nil, err
	}
	return recs, nil
}

// Incident returns one incident by ID.
func (c *Client) Incident(ctx context.Context, id string) (*incidents.Record, error) {
	var rec incidents.Record
	if err := c.doJSON(ctx, http.MethodGet, "/security/incidents/"+url.PathEscape(id), nil, &rec, false); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Feedback records an analyst verdict on an incident.
func (c *Client) Feedback(ctx context.Context, id string, action incidents.Action) (*incidents.Record, error) {
	body := map[string]string{"log_id": id, "action": string(action)}
	var rec incidents.Record
	if err := c.doJSON(ctx, http.MethodPost, "/security/feedback", body, &rec, false); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Report downloads the forensic report for an incident.
func (c *Client) Report(ctx context.Context, id string) ([]byte, error) {
	doc, _, err := c.do(ctx, http.MethodGet, "/security/report/"+url.PathEscape(id), nil, false)
	return doc, err
}

// Reset clears the incident ledger. It needs the admin secret when the
// server has one configured.
func (c *Client) Reset(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/security/reset", nil, &out, true); err != nil {
		return 0, err
	}
	return out.Count, nil
}
